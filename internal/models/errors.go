package models

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidInput      = errors.New("invalid input")

	// ErrAlreadyActiveAlert is returned by storage when the active-alert
	// unique index rejects an insert. Never surfaced past the alert manager.
	ErrAlreadyActiveAlert = errors.New("alert already active")
	ErrAlertNotFound      = errors.New("alert not found")

	ErrShipmentNotFound  = errors.New("shipment not found")
	ErrShipmentExists    = errors.New("shipment already exists for order")
	ErrOrderNotShippable = errors.New("order is not in a shippable status")

	// ErrStaleOrder means the order status changed between read and write.
	ErrStaleOrder = errors.New("order status changed concurrently")

	ErrCompensationFailure = errors.New("compensation failure")
)

type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// CompensationError means a reversing movement failed. Stock and order
// state may disagree until an operator intervenes; callers must not retry
// automatically.
type CompensationError struct {
	OrderID   string
	ProductID string
	Quantity  int64
	Cause     error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation failed for order %s product %s qty %d: %v",
		e.OrderID, e.ProductID, e.Quantity, e.Cause)
}

func (e *CompensationError) Unwrap() error { return e.Cause }

func (e *CompensationError) Is(target error) bool {
	return target == ErrCompensationFailure
}

// IsFatal reports whether err must halt automated retries.
func IsFatal(err error) bool {
	return errors.Is(err, ErrCompensationFailure)
}

// IsValidation reports errors that are the caller's fault and are never retried.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrShipmentNotFound) ||
		errors.Is(err, ErrShipmentExists) ||
		errors.Is(err, ErrOrderNotShippable)
}
