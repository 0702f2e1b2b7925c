package feed

// inboundLoop receives, decodes and routes frames for one session.
type inboundLoop struct {
	c *Client
	s *session
}

func (l *inboundLoop) run() {
	for l.step() {
	}
}

// step handles one frame. It returns false when the loop must end.
func (l *inboundLoop) step() bool {
	data, err := l.s.conn.Receive()
	receivedAt := l.c.now()

	if l.s.stopped() {
		// Closed on purpose; drop whatever arrived.
		return false
	}
	if err != nil {
		l.s.logger.Warn("receive failed", "error", err)
		l.c.reconnect(l.s, causeReceive)
		return false
	}

	msg, err := decodeMessage(data, receivedAt)
	if err != nil {
		l.s.logger.Warn("decode failed",
			"error", err,
			"bytes", len(data),
		)
		l.c.reconnect(l.s, causeDecode)
		return false
	}

	l.c.received.Add(1)
	l.c.telemetry.recordReceived(l.c.ctx, msg.Type)

	switch msg.Type {
	case TypeHeartbeat:
		l.c.lastHeartbeat.Store(receivedAt.UnixNano())
		l.c.heartbeats.Add(1)

	case TypeError:
		l.c.protocolErrors.Add(1)
		l.c.telemetry.recordProtocolError(l.c.ctx)
		l.s.logger.Warn("feed error message",
			"message", msg.Message,
			"reason", msg.Reason,
		)

	default:
		l.c.checkSequence(&msg)
		if !l.c.output.Send(msg) {
			l.s.logger.Debug("output closed, dropping message", "type", msg.Type)
			return true
		}
		l.c.forwarded.Add(1)
		l.c.telemetry.recordOutput(l.c.ctx)
	}

	return true
}
