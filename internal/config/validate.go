package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *RecorderConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Feed.validate("feed"); err != nil {
		return err
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Writer.BatchSize < 1 {
		return errors.New("writer.batch_size must be >= 1")
	}
	if c.Writer.BufferSize < 1 {
		return errors.New("writer.buffer_size must be >= 1")
	}
	if c.Writer.FlushInterval <= 0 {
		return errors.New("writer.flush_interval must be > 0")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (f *FeedConfig) validate(prefix string) error {
	u, err := url.Parse(f.URL)
	if err != nil {
		return fmt.Errorf("%s.url: %w", prefix, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s.url must use ws or wss, got %q", prefix, f.URL)
	}
	if len(f.Products) == 0 {
		return fmt.Errorf("%s.products must list at least one product", prefix)
	}
	for i, p := range f.Products {
		if p == "" {
			return fmt.Errorf("%s.products[%d] is empty", prefix, i)
		}
	}
	if f.PingInterval >= f.HeartbeatTimeout {
		return fmt.Errorf("%s.ping_interval (%s) must be less than heartbeat_timeout (%s)",
			prefix, f.PingInterval, f.HeartbeatTimeout)
	}
	if f.Reconnect.BaseDelay > f.Reconnect.MaxDelay {
		return fmt.Errorf("%s.reconnect.base_delay (%s) cannot exceed max_delay (%s)",
			prefix, f.Reconnect.BaseDelay, f.Reconnect.MaxDelay)
	}
	if f.Reconnect.Jitter > 1 {
		return fmt.Errorf("%s.reconnect.jitter must be <= 1, got %g", prefix, f.Reconnect.Jitter)
	}
	if f.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("%s.reconnect.max_attempts must be >= 0", prefix)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
