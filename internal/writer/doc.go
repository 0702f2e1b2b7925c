// Package writer persists forwarded feed messages to PostgreSQL.
//
// MessageWriter drains the client's output queue, accumulates rows and
// flushes them with one pgx.Batch per flush, either when the batch is full
// or on a timer. Inserts are append-only: a row whose id already exists is
// counted as a conflict and skipped.
package writer
