package loyalty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClient_Award(t *testing.T) {
	var got awardRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/customers/cust-1/points", r.URL.Path)
		require.Equal(t, "award:o1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL).Award(context.Background(), "cust-1", 12, "o1"))
	require.Equal(t, int64(12), got.Points)
	require.Equal(t, "o1", got.OrderID)
}

func TestClient_Award_ConflictIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL).Award(context.Background(), "c", 1, "o1"))
}

func TestClient_Award_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := New(srv.URL).Award(context.Background(), "c", 1, "o1")
	require.ErrorContains(t, err, "503")
}
