package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestMetricsRecord(t *testing.T) {
	m := NewWithMeter(noop.NewMeterProvider().Meter("test"))
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.ConnectionOpened(ctx)
		m.ConnectionClosed(ctx)
		m.HandshakeFailed(ctx, "unauthorized")
		m.MessageSent(ctx, "TEXT", 0.01)
		m.MessageDeleted(ctx)
		m.MessageRead(ctx)
		m.PresenceUpdated(ctx, "online")
		m.PushAttempted(ctx, errors.New("down"))
		m.EventDropped(ctx, "typing-status")
	})
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.ConnectionOpened(ctx)
		m.MessageSent(ctx, "TEXT", 0.01)
		m.PushAttempted(ctx, nil)
	})
}
