package feed

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// session is one connection instance and the two loops bound to it. A
// session never restarts; reconnecting always builds a new one.
type session struct {
	id     uuid.UUID
	conn   Conn
	logger *slog.Logger

	done     chan struct{}
	stopOnce sync.Once

	state   atomic.Int32
	running atomic.Int32 // loops still executing
}

func newSession(conn Conn, logger *slog.Logger) *session {
	id := uuid.New()
	s := &session{
		id:     id,
		conn:   conn,
		logger: logger.With("session", id.String()),
		done:   make(chan struct{}),
	}
	s.state.Store(int32(StateStarting))
	return s
}

// State returns the current lifecycle state.
func (s *session) State() SessionState {
	return SessionState(s.state.Load())
}

// bind marks the session running once both loops are launched.
func (s *session) bind(loops int32) {
	s.running.Store(loops)
	s.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
}

// stop signals both loops and closes the connection, which unblocks a
// pending receive.
func (s *session) stop() {
	s.stopOnce.Do(func() {
		s.state.Store(int32(StateStopping))
		close(s.done)
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("close connection", "error", err)
		}
		if s.running.Load() == 0 {
			s.state.Store(int32(StateStopped))
		}
	})
}

// stopped reports whether stop has been called.
func (s *session) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// loopExited is called by each loop on return.
func (s *session) loopExited() {
	if s.running.Add(-1) == 0 {
		s.state.CompareAndSwap(int32(StateStopping), int32(StateStopped))
	}
}
