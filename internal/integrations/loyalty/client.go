package loyalty

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// Client awards points through the loyalty service's HTTP API:
// POST /v1/customers/{id}/points.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 5 * time.Second},
	}
}

type awardRequest struct {
	Points  int64  `json:"points"`
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// Award sends an Idempotency-Key derived from the order, so a repeated
// delivered side effect does not double the points.
func (c *Client) Award(ctx context.Context, customerID string, points int64, orderID string) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u = u.JoinPath("v1", "customers", customerID, "points")

	body, err := json.Marshal(awardRequest{Points: points, OrderID: orderID, Reason: "order_delivered"})
	if err != nil {
		return errors.Wrap(err, "marshal award")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "award:"+orderID)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	// 409: уже начислено по этому заказу
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("loyalty http %d", resp.StatusCode)
	}
	return nil
}
