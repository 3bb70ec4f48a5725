package config

import (
	"fmt"
	"os"

	"github.com/BearBump/ShipBox/internal/models"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig  `yaml:"database"`
	Kafka    KafkaConfig     `yaml:"kafka"`
	Redis    RedisConfig     `yaml:"redis"`
	ShipBox  ShipBoxConfig   `yaml:"shipbox"`
	Carriers []CarrierConfig `yaml:"carriers"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnString builds a pgx connection URL; ssl_mode defaults to "disable".
func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                        string `yaml:"host"`
	Port                        int    `yaml:"port"`
	TrackingReportedTopicName   string `yaml:"tracking_reported_topic_name"`
	OrderStatusChangedTopicName string `yaml:"order_status_changed_topic_name"`
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type ShipBoxConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	LogLevel           string `yaml:"log_level"`
	// Storage is "postgres" (default) or "memory".
	Storage string `yaml:"storage"`

	OrderCacheTTLSeconds   int `yaml:"order_cache_ttl_seconds"`
	OrderLockTTLSeconds    int `yaml:"order_lock_ttl_seconds"`
	CarrierTimeoutSeconds  int `yaml:"carrier_timeout_seconds"`
	FirstCheckDelaySeconds int `yaml:"first_check_delay_seconds"`

	WorkerPollIntervalSeconds int `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int `yaml:"worker_batch_size"`
	WorkerConcurrency         int `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute  int `yaml:"worker_rate_limit_per_minute"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	// Worker scheduling (optional). If not set, defaults are "prod-like" minutes/hours:
	// SHIPPED: 30..120 minutes, UNKNOWN: 90 minutes, backoff: 5/15/30/60 minutes.
	WorkerNextCheckShippedMinSeconds int `yaml:"worker_next_check_shipped_min_seconds"`
	WorkerNextCheckShippedMaxSeconds int `yaml:"worker_next_check_shipped_max_seconds"`
	WorkerNextCheckUnknownSeconds    int `yaml:"worker_next_check_unknown_seconds"`
	WorkerBackoff1Seconds            int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds            int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds            int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds            int `yaml:"worker_backoff_4_seconds"`

	// CarrierGateway is "emulator" (HTTP carrier emulator) or "fake" (in-process, default).
	CarrierGateway         string `yaml:"carrier_gateway"`
	CarrierEmulatorBaseURL string `yaml:"carrier_emulator_base_url"`
	CarrierEmulatorAPIKey  string `yaml:"carrier_emulator_api_key"`

	BreakerFailureThreshold int     `yaml:"breaker_failure_threshold"`
	BreakerFailureRatio     float64 `yaml:"breaker_failure_ratio"`
	BreakerOpenSeconds      int     `yaml:"breaker_open_seconds"`
}

type CarrierConfig struct {
	Name               string   `yaml:"name"`
	APIKey             string   `yaml:"api_key"`
	SupportedServices  []string `yaml:"supported_services"`
	Endpoint           string   `yaml:"endpoint"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
}

// ShippingCarriers returns the configured carriers, skipping entries without a name.
func (c *Config) ShippingCarriers() []models.ShippingCarrier {
	out := make([]models.ShippingCarrier, 0, len(c.Carriers))
	for _, cc := range c.Carriers {
		if cc.Name == "" {
			continue
		}
		out = append(out, models.ShippingCarrier{
			Name:              cc.Name,
			APIKey:            cc.APIKey,
			SupportedServices: cc.SupportedServices,
			Endpoint:          cc.Endpoint,
		})
	}
	return out
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
