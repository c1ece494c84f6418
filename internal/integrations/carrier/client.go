// Package carrier describes how the tracking worker talks to shipping
// carriers. Concrete clients live in subpackages.
package carrier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ErrRateLimited is returned when the carrier answers 429.
var ErrRateLimited = errors.New("carrier rate limit")

// Event statuses use the lowercase shipment vocabulary
// (in_transit, out_for_delivery, delivered, exception, unknown).
type Event struct {
	Status      string
	StatusRaw   string
	EventTime   time.Time
	Location    string
	Description string
	Payload     json.RawMessage
}

type Result struct {
	Status    string
	StatusRaw string
	StatusAt  *time.Time
	Events    []Event
}

type Client interface {
	GetTracking(ctx context.Context, carrierCode, trackingNumber string) (Result, error)
}
