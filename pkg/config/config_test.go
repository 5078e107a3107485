package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_BookingConfig(t *testing.T) {
	t.Setenv("BOOKING_EXPIRE_AFTER_START_MINUTES", "15")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("DB_ROW_LOCKS", "false")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Booking.ExpireAfterStart)
	assert.Equal(t, 30*time.Second, cfg.Booking.SweepInterval)
	assert.False(t, cfg.Database.RowLocks)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.Database.RowLocks)
	assert.Equal(t, time.Duration(0), cfg.Booking.ExpireAfterStart)
	assert.Equal(t, 5*time.Minute, cfg.Booking.SweepInterval)
	assert.Equal(t, "redis", cfg.Booking.EventBus)
	assert.Equal(t, "localhost:6379", cfg.Redis.RedisAddr())
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")

	_, err := Load()
	assert.ErrorContains(t, err, "STORE_DRIVER")
}

func TestLoad_RejectsNegativeGrace(t *testing.T) {
	t.Setenv("BOOKING_EXPIRE_AFTER_START_MINUTES", "-5")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "slots", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=slots sslmode=disable", cfg.DatabaseDSN())
}

func TestRateLimitWindow(t *testing.T) {
	assert.Equal(t, 2*time.Second, RateLimitConfig{RequestsPerSecond: 5, Burst: 10}.Window())
	assert.Equal(t, time.Second, RateLimitConfig{Burst: 10}.Window())
}
