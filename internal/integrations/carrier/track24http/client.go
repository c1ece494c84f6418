package track24http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/OrderFlow/internal/integrations/carrier"
	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/pkg/errors"
)

// Client speaks the Track24 aggregator protocol (tracking.json.php).
// The aggregator detects the carrier from the code itself.
type Client struct {
	baseURL string
	apiKey  string
	domain  string
	httpc   *http.Client
	now     func() time.Time
}

func New(baseURL, apiKey, domain string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		domain:  domain,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type operation struct {
	OperationDateTime        string `json:"operationDateTime"`
	OperationAttribute       string `json:"operationAttribute"`
	OperationType            string `json:"operationType"`
	OperationPlaceName       string `json:"operationPlaceName"`
	OperationPlacePostalCode string `json:"operationPlacePostalCode"`
}

type response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Events []operation `json:"events"`
	} `json:"data"`
}

// Track24 отдаёт время как "02.07.2014 19:16:00", без зоны.
const operationTimeLayout = "02.01.2006 15:04:05"

func (c *Client) GetTracking(ctx context.Context, _ string, trackingNumber string) (carrier.Result, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return carrier.Result{}, errors.Wrap(err, "parse base url")
	}
	u.Path = "/tracking.json.php"
	q := u.Query()
	q.Set("apiKey", c.apiKey)
	q.Set("domain", c.domain)
	q.Set("code", trackingNumber)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return carrier.Result{}, errors.Wrap(err, "new request")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return carrier.Result{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return carrier.Result{}, carrier.ErrRateLimited
	}
	if resp.StatusCode/100 != 2 {
		return carrier.Result{}, fmt.Errorf("track24 http %d", resp.StatusCode)
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return carrier.Result{}, errors.Wrap(err, "decode")
	}
	if r.Status != "ok" {
		return carrier.Result{}, fmt.Errorf("track24 status=%s: %s", r.Status, r.Message)
	}

	now := c.now()
	res := carrier.Result{Status: models.ShipmentStatusUnknown}
	for _, op := range r.Data.Events {
		at := now
		if op.OperationDateTime != "" {
			if t, err := time.ParseInLocation(operationTimeLayout, op.OperationDateTime, time.UTC); err == nil {
				at = t
			}
		}
		loc := op.OperationPlaceName
		if op.OperationPlacePostalCode != "" {
			loc = strings.TrimSpace(op.OperationPlacePostalCode + " " + loc)
		}
		res.Events = append(res.Events, carrier.Event{
			Status:      classify(op),
			StatusRaw:   op.OperationType,
			EventTime:   at,
			Location:    loc,
			Description: op.OperationAttribute,
		})
	}
	if n := len(res.Events); n > 0 {
		last := res.Events[n-1]
		res.Status, res.StatusRaw = last.Status, last.StatusRaw
		at := last.EventTime
		res.StatusAt = &at
	}
	return res, nil
}

// classify сводит операцию Track24 к нашим статусам. Сначала смотрим на
// operationType, потом на текст атрибута (он бывает по-русски).
func classify(op operation) string {
	switch models.NormalizeShipmentStatus(op.OperationType) {
	case models.ShipmentStatusDelivered:
		return models.ShipmentStatusDelivered
	case models.ShipmentStatusOutForDelivery:
		return models.ShipmentStatusOutForDelivery
	case "returned", "failed_attempt", models.ShipmentStatusException:
		return models.ShipmentStatusException
	}
	attr := strings.ToLower(op.OperationAttribute)
	switch {
	// "неудачная попытка вручения" тоже содержит "вручен", поэтому первой
	case containsAny(attr, "неудачная попытка", "возврат", "failed"):
		return models.ShipmentStatusException
	case containsAny(attr, "вручен", "delivered"):
		return models.ShipmentStatusDelivered
	case containsAny(attr, "передано курьеру", "out for delivery"):
		return models.ShipmentStatusOutForDelivery
	}
	return models.ShipmentStatusInTransit
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
