package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every runtime setting of the service.
type Config struct {
	AppEnv    string
	LogLevel  string
	LogFormat string

	HTTPListenAddr string
	PublicBasePath string

	DatabaseDriver string
	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	MetricsNamespace string
	JWTSecret        string
	RatingBaseURL    string

	WhatsAppStorePath string
	WhatsAppLogLevel  string

	OutboxInterval  time.Duration
	OutboxBatchSize int

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from the environment, optionally layered over a config file.
func Load(configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Config{
		AppEnv:            v.GetString("APP_ENV"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		LogFormat:         v.GetString("LOG_FORMAT"),
		HTTPListenAddr:    v.GetString("HTTP_LISTEN_ADDR"),
		PublicBasePath:    v.GetString("PUBLIC_BASE_PATH"),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(v.GetString("DATABASE_DRIVER"))),
		DatabaseURL:       v.GetString("DATABASE_URL"),
		DatabaseSchema:    v.GetString("DATABASE_SCHEMA"),
		SQLitePath:        v.GetString("SQLITE_PATH"),
		RedisAddr:         v.GetString("REDIS_ADDR"),
		RedisPassword:     v.GetString("REDIS_PASSWORD"),
		RedisDB:           v.GetInt("REDIS_DB"),
		RedisTLS:          v.GetBool("REDIS_TLS"),
		MetricsNamespace:  v.GetString("METRICS_NAMESPACE"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		RatingBaseURL:     strings.TrimRight(v.GetString("RATING_BASE_URL"), "/"),
		WhatsAppStorePath: v.GetString("WHATSAPP_STORE_PATH"),
		WhatsAppLogLevel:  v.GetString("WHATSAPP_LOG_LEVEL"),
		OutboxInterval:    v.GetDuration("OUTBOX_INTERVAL"),
		OutboxBatchSize:   v.GetInt("OUTBOX_BATCH_SIZE"),
		KafkaBrokers:      splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:        v.GetString("KAFKA_TOPIC"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that have no usable default.
func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.OutboxInterval <= 0 {
		return errors.New("OUTBOX_INTERVAL must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("HTTP_LISTEN_ADDR", ":8080")
	v.SetDefault("PUBLIC_BASE_PATH", "")
	v.SetDefault("DATABASE_DRIVER", "postgres")
	v.SetDefault("DATABASE_SCHEMA", "public")
	v.SetDefault("SQLITE_PATH", "data/toko.db")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_TLS", false)
	v.SetDefault("METRICS_NAMESPACE", "toko")
	v.SetDefault("RATING_BASE_URL", "http://localhost:3000")
	v.SetDefault("WHATSAPP_STORE_PATH", "data/whatsapp.db")
	v.SetDefault("WHATSAPP_LOG_LEVEL", "INFO")
	v.SetDefault("OUTBOX_INTERVAL", "2s")
	v.SetDefault("OUTBOX_BATCH_SIZE", 50)
	v.SetDefault("KAFKA_TOPIC", "toko.fulfillment-events")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
