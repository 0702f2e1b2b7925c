package config

import (
	"time"

	"github.com/rickgao/coinbase-feed/internal/feed"
)

// Default values for optional configuration fields.
const (
	DefaultFeedURL            = feed.DefaultURL
	DefaultHeartbeatTimeout   = 30 * time.Second
	DefaultPingInterval       = 15 * time.Second
	DefaultPollInterval       = 50 * time.Millisecond
	DefaultReconnectBaseDelay = 500 * time.Millisecond
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 1000
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 10000
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

// DefaultChannels is used when feed.channels is empty. The heartbeat
// channel is always added by the client.
var DefaultChannels = []string{"matches"}

func (c *RecorderConfig) applyDefaults() {
	// Feed defaults
	if c.Feed.URL == "" {
		c.Feed.URL = DefaultFeedURL
	}
	if len(c.Feed.Channels) == 0 {
		c.Feed.Channels = append([]string(nil), DefaultChannels...)
	}
	if c.Feed.HeartbeatTimeout == 0 {
		c.Feed.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.PollInterval == 0 {
		c.Feed.PollInterval = DefaultPollInterval
	}
	if c.Feed.Reconnect.BaseDelay == 0 {
		c.Feed.Reconnect.BaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.Reconnect.MaxDelay == 0 {
		c.Feed.Reconnect.MaxDelay = DefaultReconnectMaxDelay
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
