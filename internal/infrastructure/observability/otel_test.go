package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMetrics(t *testing.T) {
	metrics, err := InitMetrics()
	require.NoError(t, err)
	require.NotNil(t, metrics)

	assert.NotPanics(t, func() {
		ctx := context.Background()
		metrics.RecordReservation(ctx, "created")
		metrics.RecordExpirations(ctx, 3)
		metrics.RecordPromotion(ctx, "abandoned")
		RecordRequestMetric(ctx, metrics, "POST", "/api/slots/{id}/bookings", 201, 0)
	})
}

func TestNilMetricsAreIgnored(t *testing.T) {
	var metrics *Metrics

	assert.NotPanics(t, func() {
		ctx := context.Background()
		metrics.RecordReservation(ctx, "created")
		metrics.RecordCancel(ctx, "cancelled")
		metrics.RecordReschedule(ctx, "moved")
		metrics.RecordExpirations(ctx, 1)
		metrics.RecordPromotion(ctx, "promoted")
		RecordRequestMetric(ctx, metrics, "GET", "/health", 200, 0)
	})
}
