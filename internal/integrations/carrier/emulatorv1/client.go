package emulatorv1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/OrderFlow/internal/integrations/carrier"
	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/pkg/errors"
)

// Client talks to the carrier emulator's JSON API:
// GET /v1/shipments/{carrier}/{tracking_number}.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

type eventDTO struct {
	Status      string          `json:"status"`
	StatusRaw   string          `json:"status_raw"`
	EventTime   time.Time       `json:"event_time"`
	Location    string          `json:"location,omitempty"`
	Description string          `json:"description,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

type shipmentDTO struct {
	Carrier        string     `json:"carrier"`
	TrackingNumber string     `json:"tracking_number"`
	Status         string     `json:"status"`
	StatusRaw      string     `json:"status_raw"`
	StatusAt       *time.Time `json:"status_at,omitempty"`
	Events         []eventDTO `json:"events"`
}

func (c *Client) GetTracking(ctx context.Context, carrierCode, trackingNumber string) (carrier.Result, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return carrier.Result{}, errors.Wrap(err, "parse base url")
	}
	u = u.JoinPath("v1", "shipments", carrierCode, trackingNumber)
	if c.apiKey != "" {
		q := u.Query()
		q.Set("apiKey", c.apiKey)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return carrier.Result{}, errors.Wrap(err, "new request")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return carrier.Result{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return carrier.Result{}, carrier.ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		// перевозчик ещё не знает трек, это не ошибка опроса
		return carrier.Result{Status: models.ShipmentStatusUnknown}, nil
	case resp.StatusCode/100 != 2:
		return carrier.Result{}, fmt.Errorf("carrier emulator http %d", resp.StatusCode)
	}

	var body shipmentDTO
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return carrier.Result{}, errors.Wrap(err, "decode")
	}

	res := carrier.Result{
		Status:    models.NormalizeShipmentStatus(body.Status),
		StatusRaw: body.StatusRaw,
		StatusAt:  body.StatusAt,
	}
	if res.Status == "" {
		res.Status = models.ShipmentStatusUnknown
	}
	for _, e := range body.Events {
		res.Events = append(res.Events, carrier.Event{
			Status:      models.NormalizeShipmentStatus(e.Status),
			StatusRaw:   e.StatusRaw,
			EventTime:   e.EventTime.UTC(),
			Location:    e.Location,
			Description: e.Description,
			Payload:     e.Payload,
		})
	}
	return res, nil
}
