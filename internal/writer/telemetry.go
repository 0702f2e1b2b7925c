package writer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/rickgao/coinbase-feed/internal/writer"

// Telemetry records writer metrics.
type Telemetry struct {
	inserts   metric.Int64Counter
	conflicts metric.Int64Counter
	errors    metric.Int64Counter
	flushes   metric.Int64Counter
	flushTime metric.Float64Histogram
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
	if t.inserts, err = meter.Int64Counter(
		"feed.writer.inserts.total",
		metric.WithDescription("Total number of rows inserted"),
	); err != nil {
		return nil, err
	}
	if t.conflicts, err = meter.Int64Counter(
		"feed.writer.conflicts.total",
		metric.WithDescription("Total number of rows skipped as duplicates"),
	); err != nil {
		return nil, err
	}
	if t.errors, err = meter.Int64Counter(
		"feed.writer.errors.total",
		metric.WithDescription("Total number of failed batch inserts"),
	); err != nil {
		return nil, err
	}
	if t.flushes, err = meter.Int64Counter(
		"feed.writer.flushes.total",
		metric.WithDescription("Total number of successful flushes"),
	); err != nil {
		return nil, err
	}
	if t.flushTime, err = meter.Float64Histogram(
		"feed.writer.flush.duration",
		metric.WithDescription("Batch insert duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *Telemetry) recordFlush(ctx context.Context, inserts, conflicts int, seconds float64) {
	if t == nil {
		return
	}
	t.inserts.Add(ctx, int64(inserts))
	t.conflicts.Add(ctx, int64(conflicts))
	t.flushes.Add(ctx, 1)
	t.flushTime.Record(ctx, seconds)
}

func (t *Telemetry) recordError(ctx context.Context) {
	if t == nil {
		return
	}
	t.errors.Add(ctx, 1)
}
