package messages

import "time"

type Notification struct {
	ID          string         `json:"id"`
	RecipientID string         `json:"recipient_id"`
	Kind        string         `json:"kind"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type Task struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	ReferenceID string    `json:"reference_id"`
	Priority    int       `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
}
