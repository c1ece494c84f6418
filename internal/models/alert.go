package models

import "time"

type AlertKind string

const (
	AlertLowStock   AlertKind = "low_stock"
	AlertOutOfStock AlertKind = "out_of_stock"
	AlertOverstock  AlertKind = "overstock"
)

type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityWarning  AlertSeverity = "warning"
	SeverityInfo     AlertSeverity = "info"
)

func (k AlertKind) Severity() AlertSeverity {
	switch k {
	case AlertOutOfStock:
		return SeverityCritical
	case AlertLowStock:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

type StockAlert struct {
	ID          string
	ProductID   string
	Kind        AlertKind
	Threshold   int64
	Quantity    int64
	Active      bool
	TriggeredAt time.Time
	ResolvedAt  *time.Time
}
