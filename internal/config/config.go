package config

import (
	"time"

	"github.com/rickgao/coinbase-feed/internal/feed"
)

// RecorderConfig is the root configuration for a recorder instance.
type RecorderConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Feed     FeedConfig     `yaml:"feed"`
	Database DBConfig       `yaml:"database"`
	Writer   WriterConfig   `yaml:"writer"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this recorder.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// FeedConfig holds the feed connection and subscription.
type FeedConfig struct {
	URL      string   `yaml:"url"`
	Products []string `yaml:"products"`
	Channels []string `yaml:"channels"`

	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	DetectSequenceGaps bool `yaml:"detect_sequence_gaps"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig holds the reconnect backoff.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Factor      float64       `yaml:"factor"`
	Jitter      float64       `yaml:"jitter"`
	MaxAttempts int           `yaml:"max_attempts"` // 0 = unlimited
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// ClientConfig converts the feed section into a feed.Config.
func (f FeedConfig) ClientConfig(outputBuffer int) feed.Config {
	return feed.Config{
		URL:                  f.URL,
		HeartbeatTimeout:     f.HeartbeatTimeout,
		PingInterval:         f.PingInterval,
		PollInterval:         f.PollInterval,
		WriteTimeout:         f.WriteTimeout,
		HandshakeTimeout:     f.HandshakeTimeout,
		OutputBufferSize:     outputBuffer,
		DetectSequenceGaps:   f.DetectSequenceGaps,
		ReconnectBaseDelay:   f.Reconnect.BaseDelay,
		ReconnectMaxDelay:    f.Reconnect.MaxDelay,
		ReconnectFactor:      f.Reconnect.Factor,
		ReconnectJitter:      f.Reconnect.Jitter,
		ReconnectMaxAttempts: f.Reconnect.MaxAttempts,
	}
}
