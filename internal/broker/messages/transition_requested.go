package messages

import "time"

// TransitionRequested asks order-core to move an order to Target.
// RequestID is the idempotency key; redelivered messages replay the result.
type TransitionRequested struct {
	RequestID   string    `json:"request_id"`
	OrderID     string    `json:"order_id"`
	Target      string    `json:"target"`
	Note        string    `json:"note,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}
