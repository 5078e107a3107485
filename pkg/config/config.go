package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Env       string
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Booking   BookingConfig
	RateLimit RateLimitConfig
	OTEL      OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// RowLocks reports whether the store supports non-blocking row locks
	RowLocks bool
	// LockTimeout bounds waits on row locks taken by conditional updates. Zero disables it.
	LockTimeout time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// BookingConfig holds the booking core settings
type BookingConfig struct {
	// ExpireAfterStart is the grace offset applied by the expiration sweep
	ExpireAfterStart  time.Duration
	SweepInterval     time.Duration
	ReminderLookahead time.Duration
	// EventBus selects the booking event transport: redis, kafka or none
	EventBus string
	// SlotListTTL is how long cached slot listings live
	SlotListTTL time.Duration
}

// RateLimitConfig holds per-client request rate limits
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Window is the span in which Burst requests are allowed when the budget is
// kept as a sliding window
func (c RateLimitConfig) Window() time.Duration {
	if c.RequestsPerSecond <= 0 {
		return time.Second
	}
	return time.Duration(float64(c.Burst) / c.RequestsPerSecond * float64(time.Second))
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Env: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Driver:      getEnv("STORE_DRIVER", "postgres"),
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvAsInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", ""),
			Database:    getEnv("DB_NAME", "slot_booking"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			RowLocks:    getEnvAsBool("DB_ROW_LOCKS", true),
			LockTimeout: getEnvAsDuration("DB_LOCK_TIMEOUT", 2*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "booking-events"),
		},
		Booking: BookingConfig{
			ExpireAfterStart:  time.Duration(getEnvAsInt("BOOKING_EXPIRE_AFTER_START_MINUTES", 0)) * time.Minute,
			SweepInterval:     getEnvAsDuration("SWEEP_INTERVAL", 5*time.Minute),
			ReminderLookahead: getEnvAsDuration("REMINDER_LOOKAHEAD", 2*time.Hour),
			EventBus:          getEnv("EVENT_BUS", "redis"),
			SlotListTTL:       getEnvAsDuration("SLOT_LIST_TTL", time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 5),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "slot-booking"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make the booking core misbehave
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Database.Driver)
	}
	switch c.Booking.EventBus {
	case "redis", "kafka", "none":
	default:
		return fmt.Errorf("unsupported EVENT_BUS %q", c.Booking.EventBus)
	}
	if c.Booking.ExpireAfterStart < 0 {
		return fmt.Errorf("BOOKING_EXPIRE_AFTER_START_MINUTES must not be negative")
	}
	if c.Booking.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.Booking.EventBus == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when EVENT_BUS=kafka")
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
