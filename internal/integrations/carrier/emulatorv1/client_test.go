package emulatorv1

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/OrderFlow/internal/integrations/carrier"
	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/stretchr/testify/require"
)

func TestClient_GetTracking_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/shipments/DHL/JD123", r.URL.Path)
		require.Equal(t, "k", r.URL.Query().Get("apiKey"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "carrier": "DHL",
  "tracking_number": "JD123",
  "status": "OUT_FOR_DELIVERY",
  "status_raw": "With courier",
  "status_at": "2026-01-01T10:00:00Z",
  "events": [
    {"status":"IN_TRANSIT","status_raw":"Hub scan","event_time":"2026-01-01T00:00:00Z","location":"Leipzig","payload":{"hub":"LEJ"}},
    {"status":"OUT_FOR_DELIVERY","status_raw":"With courier","event_time":"2026-01-01T10:00:00Z","location":"Berlin"}
  ]
}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, "k").GetTracking(context.Background(), "DHL", "JD123")
	require.NoError(t, err)
	require.Equal(t, models.ShipmentStatusOutForDelivery, res.Status)
	require.NotNil(t, res.StatusAt)
	require.WithinDuration(t, time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), *res.StatusAt, time.Second)
	require.Len(t, res.Events, 2)
	require.Equal(t, models.ShipmentStatusInTransit, res.Events[0].Status)
	require.Equal(t, "Leipzig", res.Events[0].Location)
	require.JSONEq(t, `{"hub":"LEJ"}`, string(res.Events[0].Payload))
}

func TestClient_GetTracking_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").GetTracking(context.Background(), "DHL", "JD123")
	require.ErrorIs(t, err, carrier.ErrRateLimited)
}

func TestClient_GetTracking_UnknownTrack(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	res, err := New(srv.URL, "").GetTracking(context.Background(), "DHL", "nope")
	require.NoError(t, err)
	require.Equal(t, models.ShipmentStatusUnknown, res.Status)
	require.Empty(t, res.Events)
}

func TestClient_GetTracking_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").GetTracking(context.Background(), "DHL", "JD123")
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}
