package writer

import (
	"time"

	"github.com/google/uuid"
)

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// InstanceID is stored on every row.
	InstanceID string
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     1000,
		FlushInterval: time.Second,
	}
}

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Received  int64
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	SeqGaps   int64
}

// messageRow is one row of feed_messages.
type messageRow struct {
	ID           uuid.UUID
	InstanceID   string
	ReceivedAt   time.Time
	ExchangeTime *time.Time // nil when the message carries no time
	Type         string
	ProductID    string
	Sequence     *int64 // nil when the message carries no sequence
	SeqGap       bool
	Payload      []byte
}

// messageNamespace derives row ids from frame bytes, so the same frame
// always maps to the same id.
var messageNamespace = uuid.MustParse("6f1f5c3e-2a7b-4d0e-9c51-8b3f6a1d2e90")
