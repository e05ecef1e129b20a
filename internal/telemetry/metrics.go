// Package telemetry provides OpenTelemetry metric instruments for the realtime service.
// Without a configured MeterProvider the instruments are no-ops.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "rendezvous/realtime"

// Metrics groups the instruments recorded by the service
type Metrics struct {
	connections       metric.Int64UpDownCounter
	handshakeFailures metric.Int64Counter
	messagesSent      metric.Int64Counter
	messagesDeleted   metric.Int64Counter
	readReceipts      metric.Int64Counter
	presenceUpdates   metric.Int64Counter
	pushAttempts      metric.Int64Counter
	pushFailures      metric.Int64Counter
	droppedEvents     metric.Int64Counter
	sendDuration      metric.Float64Histogram
}

// New creates the instruments from the global MeterProvider
func New() *Metrics {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter creates the instruments from meter. Instrument creation errors
// leave a no-op instrument in place.
func NewWithMeter(meter metric.Meter) *Metrics {
	m := &Metrics{}

	m.connections, _ = meter.Int64UpDownCounter("realtime.connections.active",
		metric.WithDescription("Currently open realtime connections"))
	m.handshakeFailures, _ = meter.Int64Counter("realtime.handshake.failures",
		metric.WithDescription("Connections refused at handshake"))
	m.messagesSent, _ = meter.Int64Counter("chat.messages.sent",
		metric.WithDescription("Total messages persisted and broadcast"))
	m.messagesDeleted, _ = meter.Int64Counter("chat.messages.deleted",
		metric.WithDescription("Total messages deleted by their sender"))
	m.readReceipts, _ = meter.Int64Counter("chat.messages.read",
		metric.WithDescription("Total messages marked read"))
	m.presenceUpdates, _ = meter.Int64Counter("presence.updates",
		metric.WithDescription("Total presence store writes"))
	m.pushAttempts, _ = meter.Int64Counter("push.attempts",
		metric.WithDescription("Offline push notification attempts"))
	m.pushFailures, _ = meter.Int64Counter("push.failures",
		metric.WithDescription("Offline push notification failures"))
	m.droppedEvents, _ = meter.Int64Counter("realtime.events.dropped",
		metric.WithDescription("Outbound events dropped for slow connections"))
	m.sendDuration, _ = meter.Float64Histogram("chat.send.duration",
		metric.WithDescription("Time to validate, persist and broadcast a message"),
		metric.WithUnit("s"))

	return m
}

func (m *Metrics) ConnectionOpened(ctx context.Context) {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Add(ctx, 1)
}

func (m *Metrics) ConnectionClosed(ctx context.Context) {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Add(ctx, -1)
}

func (m *Metrics) HandshakeFailed(ctx context.Context, reason string) {
	if m == nil || m.handshakeFailures == nil {
		return
	}
	m.handshakeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) MessageSent(ctx context.Context, messageType string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("type", messageType))
	if m.messagesSent != nil {
		m.messagesSent.Add(ctx, 1, attrs)
	}
	if m.sendDuration != nil {
		m.sendDuration.Record(ctx, seconds, attrs)
	}
}

func (m *Metrics) MessageDeleted(ctx context.Context) {
	if m == nil || m.messagesDeleted == nil {
		return
	}
	m.messagesDeleted.Add(ctx, 1)
}

func (m *Metrics) MessageRead(ctx context.Context) {
	if m == nil || m.readReceipts == nil {
		return
	}
	m.readReceipts.Add(ctx, 1)
}

func (m *Metrics) PresenceUpdated(ctx context.Context, op string) {
	if m == nil || m.presenceUpdates == nil {
		return
	}
	m.presenceUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *Metrics) PushAttempted(ctx context.Context, err error) {
	if m == nil {
		return
	}
	if m.pushAttempts != nil {
		m.pushAttempts.Add(ctx, 1)
	}
	if err != nil && m.pushFailures != nil {
		m.pushFailures.Add(ctx, 1)
	}
}

func (m *Metrics) EventDropped(ctx context.Context, event string) {
	if m == nil || m.droppedEvents == nil {
		return
	}
	m.droppedEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}
