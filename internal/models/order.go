package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
)

// NoteInsufficientStock is written to history when a processing request
// is redirected to cancelled.
const NoteInsufficientStock = "insufficient stock"

// ReferenceTypeOrder marks ledger movements caused by an order.
const ReferenceTypeOrder = "order"

// AllowedTransitions is the order state graph. Anything not listed here is
// an invalid transition.
var AllowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {OrderStatusReturned},
}

var transitionSet = buildTransitionSet(AllowedTransitions)

func buildTransitionSet(g map[OrderStatus][]OrderStatus) map[OrderStatus]map[OrderStatus]struct{} {
	out := make(map[OrderStatus]map[OrderStatus]struct{}, len(g))
	for from, tos := range g {
		m := make(map[OrderStatus]struct{}, len(tos))
		for _, to := range tos {
			m[to] = struct{}{}
		}
		out[from] = m
	}
	return out
}

func CanTransition(from, to OrderStatus) bool {
	_, ok := transitionSet[from][to]
	return ok
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned:
		return true
	}
	return false
}

type Order struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customerId"`
	Status     OrderStatus     `json:"status"`
	Total      decimal.Decimal `json:"total"`
	Items      []OrderItem     `json:"items"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type OrderItem struct {
	ProductID string          `json:"productId"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type OrderStatusHistory struct {
	ID             string
	OrderID        string
	PreviousStatus OrderStatus
	NewStatus      OrderStatus
	Note           string
	Actor          string
	RequestID      string
	CreatedAt      time.Time
}

type OrderCreateInput struct {
	CustomerID string
	Items      []OrderItem
}

type TransitionRequest struct {
	OrderID string
	Target  OrderStatus
	Note    string
	Actor   string
	// RequestID makes a retried request replay the recorded result instead
	// of applying the transition twice.
	RequestID string
}

type TransitionResult struct {
	FinalStatus OrderStatus
	HistoryID   string
	Replayed    bool
}
