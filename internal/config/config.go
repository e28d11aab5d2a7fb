package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ServiceName    = "shop"
	ServiceVersion = "0.1.0"
)

const (
	StorageMongo  = "mongo"
	StorageMemory = "memory"
)

type Config struct {
	HTTPPort            string
	StorageDriver       string
	MongoURI            string
	MongoDBName         string
	RedisAddr           string
	RedisPassword       string
	JWTSecret           string
	KafkaBrokers        []string
	OrderEventsTopic    string
	OtelEndpoint        string
	LogLevel            string
	RequestTimeout      time.Duration
	ShutdownTimeout     time.Duration
	MaxRequestBodySize  int64
	// CancelSweepInterval of zero disables the stuck cancellation sweeper.
	CancelSweepInterval time.Duration
	CancelSweepGrace    time.Duration
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	requestTimeout, err := getDuration("REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := getDuration("CANCEL_SWEEP_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	sweepGrace, err := getDuration("CANCEL_SWEEP_GRACE", time.Minute)
	if err != nil {
		return nil, err
	}
	maxBody, err := getInt64("MAX_REQUEST_BODY_SIZE", 1<<20) // 1MB
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPPort:            getEnv("HTTP_PORT", "8080"),
		StorageDriver:       strings.ToLower(getEnv("STORAGE_DRIVER", StorageMongo)),
		MongoURI:            getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:         getEnv("MONGO_DB_NAME", "shop"),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		KafkaBrokers:        getList("KAFKA_BROKERS"),
		OrderEventsTopic:    getEnv("ORDER_EVENTS_TOPIC", "order-events"),
		OtelEndpoint:        getEnv("OTEL_ENDPOINT", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		RequestTimeout:      requestTimeout,
		ShutdownTimeout:     shutdownTimeout,
		MaxRequestBodySize:  maxBody,
		CancelSweepInterval: sweepInterval,
		CancelSweepGrace:    sweepGrace,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when STORAGE_DRIVER=%s", StorageMongo)
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.RequestTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.CancelSweepInterval < 0 || c.CancelSweepGrace < 0 {
		return fmt.Errorf("cancellation sweep settings must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
