package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/BearBump/OrderFlow/internal/integrations/carrier"
	"github.com/BearBump/OrderFlow/internal/models"
)

// Client отвечает без сети. Статус детерминирован по (carrier, tracking number):
// примерно каждое пятое отправление уже доставлено.
type Client struct {
	now func() time.Time
}

func New() *Client {
	return &Client{now: func() time.Time { return time.Now().UTC() }}
}

func (c *Client) GetTracking(_ context.Context, carrierCode, trackingNumber string) (carrier.Result, error) {
	now := c.now()

	h := fnv.New32a()
	_, _ = h.Write([]byte(carrierCode + "|" + trackingNumber))

	events := []carrier.Event{{
		Status:      models.ShipmentStatusInTransit,
		StatusRaw:   "IN_TRANSIT",
		EventTime:   now.Add(-time.Hour),
		Description: "accepted at sorting center",
	}}
	if h.Sum32()%5 == 0 {
		events = append(events, carrier.Event{
			Status:      models.ShipmentStatusDelivered,
			StatusRaw:   "DELIVERED",
			EventTime:   now,
			Description: "handed to recipient",
		})
	}

	last := events[len(events)-1]
	at := last.EventTime
	return carrier.Result{
		Status:    last.Status,
		StatusRaw: last.StatusRaw,
		StatusAt:  &at,
		Events:    events,
	}, nil
}
