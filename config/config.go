package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Env       string          `yaml:"env"`
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	AWS       AWSConfig       `yaml:"aws"`
	OrderFlow OrderFlowConfig `yaml:"orderflow"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // "postgres" | "sqlite"
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DBName     string `yaml:"name"`
	SSLMode    string `yaml:"ssl_mode"`
	SQLitePath string `yaml:"sqlite_path"`
}

type KafkaConfig struct {
	Host                         string `yaml:"host"`
	Port                         int    `yaml:"port"`
	TrackingUpdatedTopicName     string `yaml:"tracking_updated_topic_name"`
	TransitionRequestedTopicName string `yaml:"transition_requested_topic_name"`
	NotificationsTopicName       string `yaml:"notifications_topic_name"`
	TasksTopicName               string `yaml:"tasks_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type AWSConfig struct {
	Region string `yaml:"region"`
	// Endpoint overrides the AWS endpoint (localstack).
	Endpoint              string `yaml:"endpoint"`
	NotificationsTopicARN string `yaml:"notifications_topic_arn"`
}

type OrderFlowConfig struct {
	OpsHTTPAddr          string `yaml:"ops_http_addr"`
	KafkaConsumerGroup   string `yaml:"kafka_consumer_group"`
	OrderCacheTTLSeconds int    `yaml:"order_cache_ttl_seconds"`
	OrderLockTTLSeconds  int    `yaml:"order_lock_ttl_seconds"`

	LoyaltyAccrualRate string `yaml:"loyalty_accrual_rate"` // decimal, e.g. "0.01"
	LoyaltyBaseURL     string `yaml:"loyalty_base_url"`

	// Redirect processing to cancelled on insufficient stock (default true).
	RedirectInsufficientStock *bool  `yaml:"redirect_insufficient_stock"`
	AutoResolveAlerts         bool   `yaml:"auto_resolve_alerts"`
	AlertsRecipient           string `yaml:"alerts_recipient"`
	NotificationsDriver       string `yaml:"notifications_driver"` // "kafka" | "sns" | "log"

	WorkerPollIntervalSeconds int    `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int    `yaml:"worker_batch_size"`
	WorkerConcurrency         int    `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int    `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute  int    `yaml:"worker_rate_limit_per_minute"`
	WorkerHTTPAddr            string `yaml:"worker_http_addr"`

	// Per-carrier overrides of worker_rate_limit_per_minute, e.g. {CDEK: 60}.
	WorkerCarrierRateLimits map[string]int `yaml:"worker_carrier_rate_limits"`

	// Worker scheduling (optional). If not set, planner defaults are used.
	WorkerNextCheckInTransitMinSeconds int `yaml:"worker_next_check_in_transit_min_seconds"`
	WorkerNextCheckInTransitMaxSeconds int `yaml:"worker_next_check_in_transit_max_seconds"`
	WorkerNextCheckUnknownSeconds      int `yaml:"worker_next_check_unknown_seconds"`
	WorkerBackoff1Seconds              int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds              int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds              int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds              int `yaml:"worker_backoff_4_seconds"`

	CarrierEmulatorBaseURL string `yaml:"carrier_emulator_base_url"`
	CarrierEmulatorMode    string `yaml:"carrier_emulator_mode"` // "v1" | "track24"
	CarrierEmulatorAPIKey  string `yaml:"carrier_emulator_api_key"`
	CarrierEmulatorDomain  string `yaml:"carrier_emulator_domain"`
}

func (c OrderFlowConfig) RedirectOnInsufficientStock() bool {
	if c.RedirectInsufficientStock == nil {
		return true
	}
	return *c.RedirectInsufficientStock
}

func (c DatabaseConfig) PostgresConnString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.DBName, sslMode)
}

func (c KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", c.Host, c.Port)}
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
