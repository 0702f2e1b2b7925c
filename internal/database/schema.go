package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// schema is applied in order. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS feed_messages (
		id            UUID PRIMARY KEY,
		instance_id   TEXT NOT NULL,
		received_at   TIMESTAMPTZ NOT NULL,
		exchange_time TIMESTAMPTZ,
		type          TEXT NOT NULL,
		product_id    TEXT NOT NULL DEFAULT '',
		sequence      BIGINT,
		seq_gap       BOOLEAN NOT NULL DEFAULT FALSE,
		payload       JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS feed_messages_product_time_idx
		ON feed_messages (product_id, received_at)`,
	`CREATE INDEX IF NOT EXISTS feed_messages_type_time_idx
		ON feed_messages (type, received_at)`,
}

// EnsureSchema creates the feed_messages table and its indexes if missing.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
