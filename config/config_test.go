package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
env: "production"
database:
  driver: "postgres"
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  tracking_updated_topic_name: "shipment.tracking.updated"
  transition_requested_topic_name: "order.transition.requested"
redis:
  host: "localhost"
  port: 6379
aws:
  region: "eu-west-2"
  notifications_topic_arn: "arn:aws:sns:eu-west-2:000000000000:order-events"
orderflow:
  ops_http_addr: ":8080"
  kafka_consumer_group: "order-core"
  order_cache_ttl_seconds: 600
  loyalty_accrual_rate: "0.05"
  redirect_insufficient_stock: false
  auto_resolve_alerts: true
  worker_carrier_rate_limits:
    CDEK: 60
    DHL: 30
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "shipment.tracking.updated", cfg.Kafka.TrackingUpdatedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.OrderFlow.OpsHTTPAddr)
	require.Equal(t, "0.05", cfg.OrderFlow.LoyaltyAccrualRate)
	require.False(t, cfg.OrderFlow.RedirectOnInsufficientStock())
	require.True(t, cfg.OrderFlow.AutoResolveAlerts)
	require.Equal(t, "eu-west-2", cfg.AWS.Region)
	require.Equal(t, map[string]int{"CDEK": 60, "DHL": 30}, cfg.OrderFlow.WorkerCarrierRateLimits)

	require.Equal(t, "postgres://u:p@localhost:5432/db?sslmode=disable", cfg.Database.PostgresConnString())
	require.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers())
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestRedirectDefaultsToTrue(t *testing.T) {
	var c OrderFlowConfig
	require.True(t, c.RedirectOnInsufficientStock())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
