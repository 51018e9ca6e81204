package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "DRAFTALERTS"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "draft-alerts.db"
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
	defaultAuthIssuer         = "draft-alerts"
	defaultLedgerBackend      = "sql"
	defaultLedgerRetention    = 24 * time.Hour
	defaultSweepInterval      = 15 * time.Minute
	defaultDeliveryTimeout    = 5 * time.Second
	defaultRetryAttempts      = 3
	defaultRetryBackoff       = 2 * time.Second
	defaultMaxConcurrency     = 8
	defaultPushRatePerSecond  = 50.0
	defaultPushBurst          = 10
	defaultKafkaTopic         = "draft-room-changes"
	defaultKafkaConsumerGroup = "draft-alerts"
)

// AppConfig captures runtime configuration for the alert service.
type AppConfig struct {
	HTTPAddress  string
	LogLevel     string
	LogFormat    string
	DatabasePath string

	AuthSigningSecret string
	AuthIssuer        string

	LedgerBackend       string
	LedgerRetention     time.Duration
	LedgerSweepInterval time.Duration
	LedgerRedisURL      string
	LedgerBadgerPath    string

	DeliveryTimeout        time.Duration
	DeliveryRetryAttempts  int
	DeliveryRetryBackoff   time.Duration
	DeliveryMaxConcurrency int
	DeepLinkBase           string

	PushGatewayURL    string
	PushAPIKey        string
	PushRatePerSecond float64
	PushBurst         int

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("ledger.backend", defaultLedgerBackend)
	configViper.SetDefault("ledger.retention", defaultLedgerRetention)
	configViper.SetDefault("ledger.sweep_interval", defaultSweepInterval)
	configViper.SetDefault("delivery.timeout", defaultDeliveryTimeout)
	configViper.SetDefault("delivery.retry_attempts", defaultRetryAttempts)
	configViper.SetDefault("delivery.retry_backoff", defaultRetryBackoff)
	configViper.SetDefault("delivery.max_concurrency", defaultMaxConcurrency)
	configViper.SetDefault("push.rate_per_second", defaultPushRatePerSecond)
	configViper.SetDefault("push.burst", defaultPushBurst)
	configViper.SetDefault("kafka.topic", defaultKafkaTopic)
	configViper.SetDefault("kafka.group_id", defaultKafkaConsumerGroup)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		LogLevel:     configViper.GetString("log.level"),
		LogFormat:    configViper.GetString("log.format"),
		DatabasePath: configViper.GetString("database.path"),

		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		AuthIssuer:        configViper.GetString("auth.issuer"),

		LedgerBackend:       strings.ToLower(strings.TrimSpace(configViper.GetString("ledger.backend"))),
		LedgerRetention:     configViper.GetDuration("ledger.retention"),
		LedgerSweepInterval: configViper.GetDuration("ledger.sweep_interval"),
		LedgerRedisURL:      configViper.GetString("ledger.redis_url"),
		LedgerBadgerPath:    configViper.GetString("ledger.badger_path"),

		DeliveryTimeout:        configViper.GetDuration("delivery.timeout"),
		DeliveryRetryAttempts:  configViper.GetInt("delivery.retry_attempts"),
		DeliveryRetryBackoff:   configViper.GetDuration("delivery.retry_backoff"),
		DeliveryMaxConcurrency: configViper.GetInt("delivery.max_concurrency"),
		DeepLinkBase:           strings.TrimRight(configViper.GetString("delivery.deep_link_base"), "/"),

		PushGatewayURL:    configViper.GetString("push.gateway_url"),
		PushAPIKey:        configViper.GetString("push.api_key"),
		PushRatePerSecond: configViper.GetFloat64("push.rate_per_second"),
		PushBurst:         configViper.GetInt("push.burst"),

		KafkaBrokers: splitList(configViper.GetStringSlice("kafka.brokers")),
		KafkaTopic:   configViper.GetString("kafka.topic"),
		KafkaGroupID: configViper.GetString("kafka.group_id"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// RequireSigningSecret reports an error when the webhook and stream cannot authenticate callers.
func (c AppConfig) RequireSigningSecret() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	return nil
}

// KafkaEnabled reports whether the Kafka trigger should run.
func (c AppConfig) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func (c AppConfig) validate() error {
	if c.LedgerRetention <= 0 {
		return fmt.Errorf("ledger.retention must be positive")
	}
	switch c.LedgerBackend {
	case "sql":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sql ledger")
		}
	case "redis":
		if strings.TrimSpace(c.LedgerRedisURL) == "" {
			return fmt.Errorf("ledger.redis_url is required for the redis ledger")
		}
	case "badger":
		if strings.TrimSpace(c.LedgerBadgerPath) == "" {
			return fmt.Errorf("ledger.badger_path is required for the badger ledger")
		}
	case "memory":
	default:
		return fmt.Errorf("ledger.backend %q is not supported", c.LedgerBackend)
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("delivery.timeout must be positive")
	}
	if c.DeliveryRetryAttempts < 0 {
		return fmt.Errorf("delivery.retry_attempts must not be negative")
	}
	if c.DeliveryMaxConcurrency <= 0 {
		return fmt.Errorf("delivery.max_concurrency must be positive")
	}
	if c.KafkaEnabled() && strings.TrimSpace(c.KafkaTopic) == "" {
		return fmt.Errorf("kafka.topic is required when kafka.brokers is set")
	}
	return nil
}

// splitList accepts both repeated values and a single comma separated env value.
func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
