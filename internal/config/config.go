package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every tunable the daemon reads at boot. Values come
// from the environment, with an optional app.env file for local runs.
type Config struct {
	Port        string `mapstructure:"PORT"`
	Environment string `mapstructure:"ENVIRONMENT"`

	StoreType string `mapstructure:"STORE_TYPE"`

	MongoURI             string `mapstructure:"MONGO_URI"`
	MongoDB              string `mapstructure:"MONGO_DB"`
	MongoCollection      string `mapstructure:"MONGO_COLLECTION_REQUESTS"`
	MongoOrderCollection string `mapstructure:"MONGO_COLLECTION_ORDERS"`

	PostgresConn string `mapstructure:"POSTGRES_CONN"`
	MigrationURL string `mapstructure:"MIGRATION_URL"`

	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"KAFKA_TOPIC"`

	WebhookEndpoint string `mapstructure:"NOTIFY_WEBHOOK_ENDPOINT"`

	DirectoryMode string `mapstructure:"DIRECTORY_MODE"`
	DirectoryURL  string `mapstructure:"DIRECTORY_URL"`

	GatewayKeySecret string `mapstructure:"GATEWAY_KEY_SECRET"`

	OverpassURL        string `mapstructure:"OVERPASS_URL"`
	NominatimURL       string `mapstructure:"NOMINATIM_URL"`
	NominatimUserAgent string `mapstructure:"NOMINATIM_USER_AGENT"`

	MatchBatchSize    int  `mapstructure:"MATCH_BATCH_SIZE"`
	AllowCancelActive bool `mapstructure:"LIFECYCLE_CANCEL_ACTIVE"`
	CashSkipsPayment  bool `mapstructure:"LIFECYCLE_CASH_SKIPS_PAYMENT"`
}

// Load reads configuration from the environment, falling back to an
// app.env file in path when one exists.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("STORE_TYPE", "memory")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB", "heymate")
	v.SetDefault("MONGO_COLLECTION_REQUESTS", "requests")
	v.SetDefault("MONGO_COLLECTION_ORDERS", "payment_orders")
	v.SetDefault("POSTGRES_CONN", "")
	v.SetDefault("MIGRATION_URL", "file://migrations")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "heymate.events")
	v.SetDefault("NOTIFY_WEBHOOK_ENDPOINT", "")
	v.SetDefault("DIRECTORY_MODE", "local")
	v.SetDefault("DIRECTORY_URL", "http://localhost:8086")
	v.SetDefault("GATEWAY_KEY_SECRET", "")
	v.SetDefault("OVERPASS_URL", "")
	v.SetDefault("NOMINATIM_URL", "")
	v.SetDefault("NOMINATIM_USER_AGENT", "")
	v.SetDefault("MATCH_BATCH_SIZE", 10)
	v.SetDefault("LIFECYCLE_CANCEL_ACTIVE", false)
	v.SetDefault("LIFECYCLE_CASH_SKIPS_PAYMENT", false)
}

func (c *Config) validate() error {
	switch c.StoreType {
	case "memory", "mongo", "postgres":
	default:
		return fmt.Errorf("unknown STORE_TYPE %q", c.StoreType)
	}
	if c.StoreType == "postgres" && c.PostgresConn == "" {
		return fmt.Errorf("POSTGRES_CONN is required with the postgres store")
	}
	if c.Environment == "production" && c.GatewayKeySecret == "" {
		return fmt.Errorf("GATEWAY_KEY_SECRET is required in production")
	}
	return nil
}

// KafkaBrokerList splits the comma-separated broker string.
func (c *Config) KafkaBrokerList() []string {
	if c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
