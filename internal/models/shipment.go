package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Нормализованные статусы доставки (можно расширять).
const (
	ShipmentStatusCreated        = "created"
	ShipmentStatusUnknown        = "unknown"
	ShipmentStatusInTransit      = "in_transit"
	ShipmentStatusOutForDelivery = "out_for_delivery"
	ShipmentStatusDelivered      = "delivered"
	ShipmentStatusException      = "exception"
)

type Shipment struct {
	ID                string
	OrderID           string
	Carrier           string
	Service           string
	TrackingNumber    string
	Cost              decimal.Decimal
	WeightKg          decimal.Decimal
	Status            string
	EstimatedDelivery *time.Time
	ActualDelivery    *time.Time
	LastCheckedAt     *time.Time
	NextCheckAt       time.Time
	CheckFailCount    int32
	LastError         *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type ShipmentTrackingEvent struct {
	ID          string
	ShipmentID  string
	Status      string
	StatusRaw   string
	Location    string
	Description string
	EventTime   time.Time
	CreatedAt   time.Time
}

type ShipmentCreateInput struct {
	OrderID           string
	Carrier           string
	Service           string
	TrackingNumber    string
	Cost              decimal.Decimal
	WeightKg          decimal.Decimal
	EstimatedDelivery *time.Time
	Actor             string
}

type TrackingEventInput struct {
	Status      string
	StatusRaw   string
	Location    string
	Description string
	EventTime   time.Time
}

// ShipmentCheck is the result of one carrier poll, stored on the shipment.
type ShipmentCheck struct {
	ShipmentID  string
	CheckedAt   time.Time
	NextCheckAt time.Time
	Error       *string
}

var statusReplacer = strings.NewReplacer(" ", "_", "-", "_")

// NormalizeShipmentStatus maps carrier spellings ("IN_TRANSIT", "In Transit")
// to the stored lowercase form.
func NormalizeShipmentStatus(s string) string {
	return statusReplacer.Replace(strings.ToLower(strings.TrimSpace(s)))
}
