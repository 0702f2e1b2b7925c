package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errFakeClosed = errors.New("fake connection closed")

// fakeConn is an in-memory Conn. Frames pushed with deliver are returned
// by Receive in order.
type fakeConn struct {
	frames chan []byte
	closed chan struct{}

	closeOnce sync.Once

	mu      sync.Mutex
	sent    [][]byte
	pings   int
	sendErr error
	pingErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) deliver(frames ...string) {
	for _, fr := range frames {
		f.frames <- []byte(fr)
	}
}

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Receive() ([]byte, error) {
	select {
	case <-f.closed:
		return nil, errFakeClosed
	default:
	}
	select {
	case data := <-f.frames:
		return data, nil
	case <-f.closed:
		return nil, errFakeClosed
	}
}

func (f *fakeConn) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pingErr != nil {
		return f.pingErr
	}
	f.pings++
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeConn) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// fakeDialer hands out fakeConns. The first len(errs) dials return the
// corresponding error when it is non-nil.
type fakeDialer struct {
	mu      sync.Mutex
	errs    []error
	failAll error
	dials   int
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.failAll != nil {
		return nil, d.failAll
	}
	if d.dials <= len(d.errs) && d.errs[d.dials-1] != nil {
		return nil, d.errs[d.dials-1]
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient builds a client with immediate reconnects. It is stopped
// when the test ends.
func newTestClient(t *testing.T, d Dialer, clock *fakeClock) *Client {
	t.Helper()

	cfg := Config{
		URL:          "ws://feed.test",
		PollInterval: 5 * time.Millisecond,
	}
	c := NewClient(cfg,
		WithDialer(d),
		WithReconnectPolicy(&ExponentialBackoff{}),
		WithLogger(discardLogger()),
	)
	if clock != nil {
		c.now = clock.Now
	}
	t.Cleanup(c.Stop)
	return c
}

// attach installs a session on conn without starting its loops, so tests
// can drive the loops one step at a time.
func attach(c *Client, conn Conn) *session {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.started = true
	s := newSession(conn, c.logger)
	s.bind(0)
	c.current.Store(s)
	c.lastHeartbeat.Store(c.now().UnixNano())
	return s
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
