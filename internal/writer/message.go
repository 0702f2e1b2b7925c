package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/coinbase-feed/internal/feed"
	"github.com/rickgao/coinbase-feed/internal/queue"
)

// BatchSender is satisfied by *pgxpool.Pool.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const insertMessage = `
	INSERT INTO feed_messages (id, instance_id, received_at, exchange_time, type, product_id, sequence, seq_gap, payload)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING
`

// MessageWriter consumes feed messages from the client's output queue and
// writes them to the feed_messages table.
type MessageWriter struct {
	cfg       WriterConfig
	logger    *slog.Logger
	telemetry *Telemetry

	// Input from the feed client
	input *queue.Queue[feed.Message]

	// Database
	db BatchSender

	// Batching
	batch       []messageRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	drained chan struct{}

	// Metrics
	metrics WriterMetrics
}

// NewMessageWriter creates a new MessageWriter. telemetry may be nil.
func NewMessageWriter(
	cfg WriterConfig,
	input *queue.Queue[feed.Message],
	db BatchSender,
	telemetry *Telemetry,
	logger *slog.Logger,
) *MessageWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &MessageWriter{
		cfg:       cfg,
		input:     input,
		db:        db,
		telemetry: telemetry,
		logger:    logger,
		batch:     make([]messageRow, 0, cfg.BatchSize),
		drained:   make(chan struct{}),
	}
}

// Start begins consuming messages and writing to the database.
func (w *MessageWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("message writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Drained is closed once the input queue has been closed and emptied.
func (w *MessageWriter) Drained() <-chan struct{} {
	return w.drained
}

// Stop shuts the writer down and flushes whatever is batched, using ctx
// for the final insert.
func (w *MessageWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping message writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("message writer stop timed out")
	}

	// Final flush
	w.flush(ctx)

	stats := w.Stats()
	w.logger.Info("message writer stopped",
		"inserts", stats.Inserts,
		"conflicts", stats.Conflicts,
		"errors", stats.Errors,
	)
	return nil
}

// Stats returns current metrics.
func (w *MessageWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input queue and accumulates batches. It exits
// when the context ends or the queue is closed and empty.
func (w *MessageWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			msg, ok := w.input.TryReceive()
			if !ok {
				if w.input.Closed() && w.input.Len() == 0 {
					w.flush(w.ctx)
					close(w.drained)
					return
				}
				// Queue empty, wait a bit before trying again
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			w.handleMessage(msg)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *MessageWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.drained:
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleMessage transforms and adds a message to the batch.
func (w *MessageWriter) handleMessage(msg feed.Message) {
	row := w.transform(msg)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	w.metrics.Received++
	if row.SeqGap {
		w.metrics.SeqGaps++
	}
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts a feed.Message to a messageRow.
func (w *MessageWriter) transform(msg feed.Message) messageRow {
	row := messageRow{
		ID:         uuid.NewSHA1(messageNamespace, msg.Raw),
		InstanceID: w.cfg.InstanceID,
		ReceivedAt: msg.ReceivedAt.UTC(),
		Type:       msg.Type,
		ProductID:  msg.ProductID,
		SeqGap:     msg.SeqGap,
		Payload:    msg.Raw,
	}
	if !msg.Time.IsZero() {
		t := msg.Time.UTC()
		row.ExchangeTime = &t
	}
	if msg.Sequence != 0 {
		seq := msg.Sequence
		row.Sequence = &seq
	}
	return row
}

// flush writes the current batch to the database.
func (w *MessageWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]messageRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		w.telemetry.recordError(ctx)
		return
	}

	elapsed := time.Since(start)

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()
	w.telemetry.recordFlush(ctx, len(batch)-conflicts, conflicts, elapsed.Seconds())

	w.logger.Debug("flushed messages",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", elapsed,
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *MessageWriter) batchInsert(ctx context.Context, rows []messageRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertMessage,
			r.ID, r.InstanceID, r.ReceivedAt, r.ExchangeTime,
			r.Type, r.ProductID, r.Sequence, r.SeqGap, r.Payload,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
