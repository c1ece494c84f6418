package models

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCanTransition_Graph(t *testing.T) {
	all := []OrderStatus{
		OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned,
	}
	allowed := map[[2]OrderStatus]bool{
		{OrderStatusPending, OrderStatusConfirmed}:    true,
		{OrderStatusPending, OrderStatusCancelled}:    true,
		{OrderStatusConfirmed, OrderStatusProcessing}: true,
		{OrderStatusConfirmed, OrderStatusCancelled}:  true,
		{OrderStatusProcessing, OrderStatusShipped}:   true,
		{OrderStatusProcessing, OrderStatusCancelled}: true,
		{OrderStatusShipped, OrderStatusDelivered}:    true,
		{OrderStatusDelivered, OrderStatusReturned}:   true,
	}
	for _, from := range all {
		for _, to := range all {
			require.Equal(t, allowed[[2]OrderStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	require.False(t, CanTransition("bogus", OrderStatusConfirmed))
}

func TestNextStock(t *testing.T) {
	require.Equal(t, int64(15), NextStock(MovementIn, 10, 5))
	require.Equal(t, int64(15), NextStock(MovementReturn, 10, 5))
	require.Equal(t, int64(5), NextStock(MovementOut, 10, 5))
	require.Equal(t, int64(-1), NextStock(MovementTransfer, 4, 5))
	require.Equal(t, int64(3), NextStock(MovementAdjustment, 10, 3))
	require.Equal(t, int64(0), NextStock(MovementAdjustment, 10, 0))
}

func TestCheckedNextStock_Overflow(t *testing.T) {
	_, err := CheckedNextStock(MovementIn, math.MaxInt64-1, 2)
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = CheckedNextStock(MovementReturn, math.MaxInt64, 1)
	require.ErrorIs(t, err, ErrInvalidInput)

	next, err := CheckedNextStock(MovementIn, math.MaxInt64-2, 2)
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), next)

	next, err = CheckedNextStock(MovementAdjustment, 5, math.MaxInt64)
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), next)
}

func TestReplayStock(t *testing.T) {
	movs := []*InventoryMovement{
		{Kind: MovementIn, Quantity: 10},
		{Kind: MovementOut, Quantity: 3},
		{Kind: MovementAdjustment, Quantity: 20},
		{Kind: MovementTransfer, Quantity: 5},
		{Kind: MovementReturn, Quantity: 1},
	}
	require.Equal(t, int64(16), ReplayStock(movs))
	require.Equal(t, int64(0), ReplayStock(nil))
}

func TestErrors_Classification(t *testing.T) {
	it := &InvalidTransitionError{From: OrderStatusShipped, To: OrderStatusPending}
	require.ErrorIs(t, it, ErrInvalidTransition)
	require.Contains(t, it.Error(), "shipped -> pending")
	require.True(t, IsValidation(errors.Wrap(it, "transition")))
	require.False(t, IsFatal(it))

	cause := errors.New("db down")
	ce := &CompensationError{OrderID: "o1", ProductID: "p1", Quantity: 2, Cause: cause}
	wrapped := errors.Wrap(ce, "transition")
	require.True(t, IsFatal(wrapped))
	require.ErrorIs(t, wrapped, cause)
	require.False(t, IsValidation(wrapped))

	var got *CompensationError
	require.True(t, errors.As(wrapped, &got))
	require.Equal(t, "p1", got.ProductID)
}

func TestAlertKind_Severity(t *testing.T) {
	require.Equal(t, SeverityCritical, AlertOutOfStock.Severity())
	require.Equal(t, SeverityWarning, AlertLowStock.Severity())
	require.Equal(t, SeverityInfo, AlertOverstock.Severity())
}

func TestNormalizeShipmentStatus(t *testing.T) {
	require.Equal(t, ShipmentStatusInTransit, NormalizeShipmentStatus(" IN_TRANSIT "))
	require.Equal(t, ShipmentStatusOutForDelivery, NormalizeShipmentStatus("Out-For Delivery"))
	require.Equal(t, ShipmentStatusDelivered, NormalizeShipmentStatus("DELIVERED"))
	require.Equal(t, "", NormalizeShipmentStatus("  "))
}
