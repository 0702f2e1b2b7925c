package feed

import (
	"encoding/json"
	"time"
)

// outboundLoop checks staleness, pings and drains commands for one
// session. lastPing belongs to this instance only, so every new session
// pings on its first cycle.
type outboundLoop struct {
	c        *Client
	s        *session
	lastPing time.Time
}

func (l *outboundLoop) run() {
	ticker := time.NewTicker(l.c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if !l.step(l.c.now()) {
			return
		}

		select {
		case <-l.s.done:
			return
		case <-l.c.ctx.Done():
			l.c.shutdown()
			return
		case <-ticker.C:
		}
	}
}

// step runs one cycle: staleness, keepalive, then at most one command. It
// returns false when the loop must end.
func (l *outboundLoop) step(now time.Time) bool {
	if l.s.stopped() {
		return false
	}

	last := time.Unix(0, l.c.lastHeartbeat.Load())
	if now.Sub(last) >= l.c.cfg.HeartbeatTimeout {
		l.s.logger.Warn("reconnecting",
			"error", ErrStaleConnection,
			"last_heartbeat", last,
			"timeout", l.c.cfg.HeartbeatTimeout,
		)
		l.c.reconnect(l.s, causeStale)
		return false
	}

	if now.Sub(l.lastPing) >= l.c.cfg.PingInterval {
		if err := l.s.conn.Ping(); err != nil {
			l.s.logger.Warn("ping failed", "error", err)
			l.c.reconnect(l.s, causeWrite)
			return false
		}
		l.lastPing = now
		l.c.pingsSent.Add(1)
		l.c.telemetry.recordPing(l.c.ctx)
	}

	cmd, ok := l.c.commands.TryReceive()
	if !ok {
		return true
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		l.s.logger.Error("encode command", "error", err)
		return true
	}

	// A command lost here is covered by the replay on the next session,
	// since every command carries the full subscription.
	if err := l.s.conn.Send(data); err != nil {
		l.s.logger.Warn("send command failed", "type", cmd.Type, "error", err)
		l.c.reconnect(l.s, causeWrite)
		return false
	}

	l.c.commandsSent.Add(1)
	l.c.telemetry.recordCommandSent(l.c.ctx)
	l.s.logger.Debug("command sent",
		"type", cmd.Type,
		"products", cmd.ProductIDs,
		"channels", cmd.Channels,
	)
	return true
}
