package messages

import (
	"encoding/json"
	"time"
)

// TrackingUpdated is published by the tracking worker after each carrier poll.
type TrackingUpdated struct {
	ShipmentID string    `json:"shipment_id"`
	CheckedAt  time.Time `json:"checked_at"`

	Status    string     `json:"status,omitempty"`
	StatusRaw string     `json:"status_raw,omitempty"`
	StatusAt  *time.Time `json:"status_at,omitempty"`

	NextCheckAt time.Time `json:"next_check_at"`

	Events []TrackingEvent `json:"events,omitempty"`

	Error *string `json:"error,omitempty"`
}

type TrackingEvent struct {
	Status      string          `json:"status"`
	StatusRaw   string          `json:"status_raw"`
	EventTime   time.Time       `json:"event_time"`
	Location    string          `json:"location,omitempty"`
	Description string          `json:"description,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}
