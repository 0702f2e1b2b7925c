// telemetry.go provides OpenTelemetry metrics for the feed client:
//   - feed.client.reconnections.total: Counter of session replacements by cause
//   - feed.client.messages.received.total: Counter of decoded frames by type
//   - feed.client.messages.output.total: Counter of messages handed to the consumer
//   - feed.client.protocol_errors.total: Counter of "error" messages from the feed
//   - feed.client.commands.sent.total: Counter of commands written
//   - feed.client.pings.sent.total: Counter of keepalive pings
//   - feed.client.sequence_gaps.total: Counter of detected sequence gaps
//   - feed.client.connection.state: Gauge of connection state (1=connected, 0=disconnected)
package feed

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/rickgao/coinbase-feed/internal/feed"

// Telemetry records client metrics.
type Telemetry struct {
	reconnections   metric.Int64Counter
	received        metric.Int64Counter
	output          metric.Int64Counter
	protocolErrors  metric.Int64Counter
	commandsSent    metric.Int64Counter
	pingsSent       metric.Int64Counter
	sequenceGaps    metric.Int64Counter
	connectionState metric.Int64UpDownCounter
}

// NewTelemetry creates Telemetry on the global meter provider.
func NewTelemetry() (*Telemetry, error) {
	return NewTelemetryWithProvider(otel.GetMeterProvider())
}

// NewTelemetryWithProvider creates Telemetry on mp.
func NewTelemetryWithProvider(mp metric.MeterProvider) (*Telemetry, error) {
	meter := mp.Meter(instrumentationName)
	t := &Telemetry{}

	var err error
	if t.reconnections, err = meter.Int64Counter(
		"feed.client.reconnections.total",
		metric.WithDescription("Total number of session replacements"),
	); err != nil {
		return nil, err
	}
	if t.received, err = meter.Int64Counter(
		"feed.client.messages.received.total",
		metric.WithDescription("Total number of decoded frames"),
	); err != nil {
		return nil, err
	}
	if t.output, err = meter.Int64Counter(
		"feed.client.messages.output.total",
		metric.WithDescription("Total number of messages handed to the consumer"),
	); err != nil {
		return nil, err
	}
	if t.protocolErrors, err = meter.Int64Counter(
		"feed.client.protocol_errors.total",
		metric.WithDescription("Total number of error messages sent by the feed"),
	); err != nil {
		return nil, err
	}
	if t.commandsSent, err = meter.Int64Counter(
		"feed.client.commands.sent.total",
		metric.WithDescription("Total number of commands written to the feed"),
	); err != nil {
		return nil, err
	}
	if t.pingsSent, err = meter.Int64Counter(
		"feed.client.pings.sent.total",
		metric.WithDescription("Total number of keepalive pings"),
	); err != nil {
		return nil, err
	}
	if t.sequenceGaps, err = meter.Int64Counter(
		"feed.client.sequence_gaps.total",
		metric.WithDescription("Total number of sequence gaps detected"),
	); err != nil {
		return nil, err
	}
	if t.connectionState, err = meter.Int64UpDownCounter(
		"feed.client.connection.state",
		metric.WithDescription("Current connection state (1=connected, 0=disconnected)"),
	); err != nil {
		return nil, err
	}

	return t, nil
}

// A nil *Telemetry records nothing.

func (t *Telemetry) recordReconnect(ctx context.Context, cause string) {
	if t == nil {
		return
	}
	t.reconnections.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

func (t *Telemetry) recordReceived(ctx context.Context, msgType string) {
	if t == nil {
		return
	}
	t.received.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}

func (t *Telemetry) recordOutput(ctx context.Context) {
	if t == nil {
		return
	}
	t.output.Add(ctx, 1)
}

func (t *Telemetry) recordProtocolError(ctx context.Context) {
	if t == nil {
		return
	}
	t.protocolErrors.Add(ctx, 1)
}

func (t *Telemetry) recordCommandSent(ctx context.Context) {
	if t == nil {
		return
	}
	t.commandsSent.Add(ctx, 1)
}

func (t *Telemetry) recordPing(ctx context.Context) {
	if t == nil {
		return
	}
	t.pingsSent.Add(ctx, 1)
}

func (t *Telemetry) recordSequenceGap(ctx context.Context, productID string) {
	if t == nil {
		return
	}
	t.sequenceGaps.Add(ctx, 1, metric.WithAttributes(attribute.String("product_id", productID)))
}

func (t *Telemetry) recordConnectionUp(ctx context.Context) {
	if t == nil {
		return
	}
	t.connectionState.Add(ctx, 1)
}

func (t *Telemetry) recordConnectionDown(ctx context.Context) {
	if t == nil {
		return
	}
	t.connectionState.Add(ctx, -1)
}
