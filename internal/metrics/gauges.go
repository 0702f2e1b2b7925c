package metrics

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/rickgao/coinbase-feed/internal/metrics"

// PoolStatter is satisfied by *pgxpool.Pool.
type PoolStatter interface {
	Stat() *pgxpool.Stat
}

// RegisterPoolStats exports connection pool gauges for pool.
func RegisterPoolStats(mp metric.MeterProvider, pool PoolStatter) error {
	meter := mp.Meter(instrumentationName)

	total, err := meter.Int64ObservableGauge("db.pool.connections.total",
		metric.WithDescription("Connections currently in the pool"))
	if err != nil {
		return err
	}
	acquired, err := meter.Int64ObservableGauge("db.pool.connections.acquired",
		metric.WithDescription("Connections currently checked out"))
	if err != nil {
		return err
	}
	idle, err := meter.Int64ObservableGauge("db.pool.connections.idle",
		metric.WithDescription("Idle connections"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := pool.Stat()
		o.ObserveInt64(total, int64(s.TotalConns()))
		o.ObserveInt64(acquired, int64(s.AcquiredConns()))
		o.ObserveInt64(idle, int64(s.IdleConns()))
		return nil
	}, total, acquired, idle)
	return err
}

// RegisterBacklog exports a gauge that reports fn on every collection.
func RegisterBacklog(mp metric.MeterProvider, name, description string, fn func() int) error {
	meter := mp.Meter(instrumentationName)

	_, err := meter.Int64ObservableGauge(name,
		metric.WithDescription(description),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(fn()))
			return nil
		}),
	)
	return err
}
