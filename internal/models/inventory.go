package models

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type MovementKind string

const (
	MovementIn         MovementKind = "in"
	MovementOut        MovementKind = "out"
	MovementAdjustment MovementKind = "adjustment"
	MovementTransfer   MovementKind = "transfer"
	MovementReturn     MovementKind = "return"
)

func (k MovementKind) Valid() bool {
	switch k {
	case MovementIn, MovementOut, MovementAdjustment, MovementTransfer, MovementReturn:
		return true
	}
	return false
}

// Decreasing reports whether the kind takes units out of stock.
func (k MovementKind) Decreasing() bool {
	return k == MovementOut || k == MovementTransfer
}

// NextStock computes the stock value after applying a movement.
// Adjustment sets an absolute value; the other kinds are deltas.
func NextStock(kind MovementKind, current, quantity int64) int64 {
	switch kind {
	case MovementIn, MovementReturn:
		return current + quantity
	case MovementOut, MovementTransfer:
		return current - quantity
	case MovementAdjustment:
		return quantity
	}
	return current
}

// CheckedNextStock is NextStock that refuses to wrap around int64.
// A negative result is returned as is; the caller decides on it.
func CheckedNextStock(kind MovementKind, current, quantity int64) (int64, error) {
	switch kind {
	case MovementIn, MovementReturn:
		if quantity > 0 && current > math.MaxInt64-quantity {
			return current, errors.Wrapf(ErrInvalidInput, "stock %d + %d overflows", current, quantity)
		}
	case MovementOut, MovementTransfer:
		if quantity > 0 && current < math.MinInt64+quantity {
			return current, errors.Wrapf(ErrInvalidInput, "stock %d - %d overflows", current, quantity)
		}
	}
	return NextStock(kind, current, quantity), nil
}

// Product is the stock-bearing view of a catalog product.
type Product struct {
	ID           string    `json:"id"`
	SKU          string    `json:"sku"`
	Stock        int64     `json:"stock"`
	MinThreshold int64     `json:"minThreshold"`
	MaxThreshold *int64    `json:"maxThreshold,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type InventoryMovement struct {
	ID            string
	Seq           int64
	ProductID     string
	Kind          MovementKind
	Quantity      int64
	StockBefore   int64
	StockAfter    int64
	Reason        string
	ReferenceID   string
	ReferenceType string
	UnitCost      decimal.NullDecimal
	Actor         string
	CreatedAt     time.Time
}

type MovementInput struct {
	ProductID     string
	Quantity      int64
	Kind          MovementKind
	Reason        string
	ReferenceID   string
	ReferenceType string
	UnitCost      decimal.NullDecimal
	Actor         string
}

type MovementResult struct {
	PreviousStock int64
	NewStock      int64
	MovementID    string
}

type Sufficiency struct {
	Sufficient   bool
	CurrentStock int64
}

// ReplayStock folds movements (already ordered) into a stock value.
func ReplayStock(movs []*InventoryMovement) int64 {
	var stock int64
	for _, m := range movs {
		stock = NextStock(m.Kind, stock, m.Quantity)
	}
	return stock
}

type ProductCreateInput struct {
	ID           string
	SKU          string
	InitialStock int64
	MinThreshold int64
	MaxThreshold *int64
	UnitCost     decimal.NullDecimal
	Actor        string
}

// LedgerReport compares the stored stock with the replayed movement log.
type LedgerReport struct {
	ProductID  string `json:"productId"`
	Stock      int64  `json:"stock"`
	Replayed   int64  `json:"replayed"`
	Movements  int    `json:"movements"`
	Consistent bool   `json:"consistent"`
}
