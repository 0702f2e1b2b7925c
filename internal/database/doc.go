// Package database provides the PostgreSQL connection pool and the schema
// for recorded feed messages.
//
// The recorder stores every forwarded message in feed_messages, keyed by a
// content-derived UUID so that re-recording the same frame is a no-op.
package database
