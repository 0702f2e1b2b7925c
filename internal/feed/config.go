package feed

import (
	"log/slog"
	"time"
)

// DefaultURL is the public market-data feed endpoint.
const DefaultURL = "wss://ws-feed.exchange.coinbase.com"

// Default configuration values.
const (
	defaultHeartbeatTimeout  = 30 * time.Second
	defaultPingInterval      = 15 * time.Second
	defaultPollInterval      = 50 * time.Millisecond
	defaultWriteTimeout      = 5 * time.Second
	defaultHandshakeTimeout  = 10 * time.Second
	defaultOutputBufferSize  = 1000
	defaultCommandBufferSize = 16
	defaultReconnectBase     = 500 * time.Millisecond
	defaultReconnectMax      = 30 * time.Second
	defaultReconnectFactor   = 2.0
	defaultReconnectJitter   = 0.5
)

// Config configures a Client.
type Config struct {
	// URL is the feed endpoint. Defaults to DefaultURL.
	URL string

	// HeartbeatTimeout is how long without a heartbeat message before the
	// connection is presumed dead.
	HeartbeatTimeout time.Duration

	// PingInterval is the keepalive ping cadence per connection.
	PingInterval time.Duration

	// PollInterval bounds one outbound loop cycle.
	PollInterval time.Duration

	// WriteTimeout is the write deadline for frames and pings.
	WriteTimeout time.Duration

	// HandshakeTimeout bounds the websocket opening handshake.
	HandshakeTimeout time.Duration

	// OutputBufferSize and CommandBufferSize are initial queue capacities.
	// Both queues grow without bound.
	OutputBufferSize  int
	CommandBufferSize int

	// DetectSequenceGaps flags messages whose sequence skips ahead of the
	// previous message for the same product. Only meaningful on channels
	// that carry every sequence number (e.g. "full").
	DetectSequenceGaps bool

	// Reconnect backoff. MaxAttempts of 0 retries forever. A negative
	// Jitter disables jitter; zero selects the default.
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectFactor      float64
	ReconnectJitter      float64
	ReconnectMaxAttempts int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	c := Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.OutputBufferSize == 0 {
		c.OutputBufferSize = defaultOutputBufferSize
	}
	if c.CommandBufferSize == 0 {
		c.CommandBufferSize = defaultCommandBufferSize
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = defaultReconnectBase
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = defaultReconnectMax
	}
	if c.ReconnectFactor == 0 {
		c.ReconnectFactor = defaultReconnectFactor
	}
	if c.ReconnectJitter == 0 {
		c.ReconnectJitter = defaultReconnectJitter
	}
}

// Option configures optional Client collaborators.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithReconnectPolicy replaces the backoff policy built from Config.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithTelemetry sets the metrics recorder.
func WithTelemetry(t *Telemetry) Option {
	return func(c *Client) {
		c.telemetry = t
	}
}
