package track24http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/stretchr/testify/require"
)

func TestClient_GetTracking_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tracking.json.php", r.URL.Path)
		require.Equal(t, "demo", r.URL.Query().Get("apiKey"))
		require.Equal(t, "d", r.URL.Query().Get("domain"))
		require.Equal(t, "RA123RU", r.URL.Query().Get("code"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "status": "ok",
  "data": {
    "events": [
      {"operationDateTime":"01.01.2026 00:00:00","operationAttribute":"Принято","operationType":"ACCEPTED","operationPlaceName":"Moscow","operationPlacePostalCode":"101000"},
      {"operationDateTime":"03.01.2026 12:30:00","operationAttribute":"Вручение адресату","operationType":"DELIVERED","operationPlaceName":"Kazan"}
    ]
  }
}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, "demo", "d").GetTracking(context.Background(), "IGNORED", "RA123RU")
	require.NoError(t, err)
	require.Equal(t, models.ShipmentStatusDelivered, res.Status)
	require.Equal(t, "DELIVERED", res.StatusRaw)
	require.Len(t, res.Events, 2)
	require.Equal(t, models.ShipmentStatusInTransit, res.Events[0].Status)
	require.Equal(t, "101000 Moscow", res.Events[0].Location)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), res.Events[0].EventTime)
	require.NotNil(t, res.StatusAt)
	require.Equal(t, time.Date(2026, 1, 3, 12, 30, 0, 0, time.UTC), *res.StatusAt)
}

func TestClient_GetTracking_NotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","message":"bad key"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "x", "d").GetTracking(context.Background(), "", "C")
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad key")
}

func TestClassify(t *testing.T) {
	require.Equal(t, models.ShipmentStatusDelivered, classify(operation{OperationAttribute: "Вручено адресату"}))
	require.Equal(t, models.ShipmentStatusOutForDelivery, classify(operation{OperationType: "Out for delivery"}))
	require.Equal(t, models.ShipmentStatusException, classify(operation{OperationAttribute: "Неудачная попытка вручения"}))
	require.Equal(t, models.ShipmentStatusInTransit, classify(operation{OperationAttribute: "Прибыло в сортировочный центр"}))
}
