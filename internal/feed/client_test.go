package feed

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

func decodeCommands(t *testing.T, frames [][]byte) []Command {
	t.Helper()
	cmds := make([]Command, 0, len(frames))
	for _, frame := range frames {
		var cmd Command
		if err := json.Unmarshal(frame, &cmd); err != nil {
			t.Fatalf("decode command %s: %v", frame, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

func TestClient_StartAndSubscribe(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n := dialer.dialCount(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}

	conn := dialer.conn(0)
	waitFor(t, "first ping", func() bool { return conn.pingCount() >= 1 })

	c.Subscribe([]string{"BTC-USD"}, []string{"matches"})
	waitFor(t, "subscribe sent", func() bool { return c.Stats().CommandsSent == 1 })

	if frames := conn.sentFrames(); len(frames) != 1 {
		t.Errorf("sent %d frames, want 1", len(frames))
	}
	stats := c.Stats()
	if !stats.Connected {
		t.Error("Connected = false after Start")
	}
	if stats.SessionState != "running" {
		t.Errorf("SessionState = %q, want running", stats.SessionState)
	}
}

func TestClient_StartTwice(t *testing.T) {
	c := newTestClient(t, &fakeDialer{}, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start error = %v, want ErrAlreadyStarted", err)
	}
}

func TestClient_StartAfterStop(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, nil)
	c.Stop()

	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("Start error = %v, want ErrAlreadyClosed", err)
	}
	if n := dialer.dialCount(); n != 0 {
		t.Errorf("dials = %d, want 0", n)
	}
}

func TestClient_StopIdempotent(t *testing.T) {
	c := newTestClient(t, &fakeDialer{}, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c.Stop()
	c.Stop()

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err() = %v, want nil after Stop", err)
	}
	if c.Stats().Connected {
		t.Error("Connected = true after Stop")
	}
	if c.Output().Send(Message{Type: "match"}) {
		t.Error("output accepts messages after Stop")
	}
}

func TestClient_ConcurrentReconnectReplacesOnce(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, newFakeClock())
	s := attach(c, newFakeConn())

	var wg sync.WaitGroup
	for _, cause := range []string{causeStale, causeReceive} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.reconnect(s, cause)
		}()
	}
	wg.Wait()

	if n := dialer.dialCount(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
	if got := c.Stats().Reconnects; got != 1 {
		t.Errorf("Reconnects = %d, want 1", got)
	}
	if cur := c.current.Load(); cur == nil || cur == s {
		t.Error("session was not replaced")
	}
}

func TestClient_ReplayOnReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, nil)
	s := attach(c, newFakeConn())

	c.Subscribe([]string{"BTC-USD", "ETH-USD"}, []string{"matches"})
	c.Subscribe([]string{"BTC-USD"}, []string{"ticker"})
	// Pretend both were sent on the old connection.
	for c.commands.Len() > 0 {
		c.commands.TryReceive()
	}

	if err := c.reconnect(s, causeStale); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	conn := dialer.conn(0)
	waitFor(t, "replay", func() bool { return len(conn.sentFrames()) >= 1 })
	time.Sleep(30 * time.Millisecond)

	cmds := decodeCommands(t, conn.sentFrames())
	if len(cmds) != 1 {
		t.Fatalf("sent %d commands, want exactly 1 replay", len(cmds))
	}
	want := Command{
		Type:       "subscribe",
		ProductIDs: []string{"BTC-USD", "ETH-USD"},
		Channels:   []string{"heartbeat", "matches", "ticker"},
	}
	if !reflect.DeepEqual(cmds[0], want) {
		t.Errorf("replay = %+v, want %+v", cmds[0], want)
	}
}

func TestClient_NoReplayWithoutProducts(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, nil)
	s := attach(c, newFakeConn())

	if err := c.reconnect(s, causeStale); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	conn := dialer.conn(0)
	waitFor(t, "ping on new connection", func() bool { return conn.pingCount() >= 1 })
	time.Sleep(30 * time.Millisecond)

	if frames := conn.sentFrames(); len(frames) != 0 {
		t.Errorf("sent %d frames, want 0", len(frames))
	}
}

func TestClient_ResidualCommandsSurviveReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, nil)
	s := attach(c, newFakeConn())

	// Queued but never sent on the old connection.
	c.Subscribe([]string{"BTC-USD"}, []string{"level2"})

	if err := c.reconnect(s, causeReceive); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	conn := dialer.conn(0)
	waitFor(t, "both commands", func() bool { return len(conn.sentFrames()) == 2 })

	cmds := decodeCommands(t, conn.sentFrames())
	want := Command{
		Type:       "subscribe",
		ProductIDs: []string{"BTC-USD"},
		Channels:   []string{"heartbeat", "level2"},
	}
	for i, cmd := range cmds {
		if !reflect.DeepEqual(cmd, want) {
			t.Errorf("command %d = %+v, want %+v", i, cmd, want)
		}
	}
}

func TestClient_BackoffBetweenFailedDials(t *testing.T) {
	dialer := &fakeDialer{errs: []error{
		errors.New("connection refused"),
		errors.New("connection refused"),
	}}
	c := newTestClient(t, dialer, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n := dialer.dialCount(); n != 3 {
		t.Errorf("dials = %d, want 3", n)
	}
	if !c.Stats().Connected {
		t.Error("Connected = false after retries")
	}
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	dialErr := errors.New("connection refused")
	dialer := &fakeDialer{failAll: dialErr}

	c := NewClient(Config{URL: "ws://feed.test"},
		WithDialer(dialer),
		WithReconnectPolicy(&ExponentialBackoff{MaxAttempts: 3}),
		WithLogger(discardLogger()),
	)
	defer c.Stop()

	err := c.Start(context.Background())
	if !errors.Is(err, ErrReconnectAborted) {
		t.Fatalf("Start error = %v, want ErrReconnectAborted", err)
	}
	if n := dialer.dialCount(); n != 3 {
		t.Errorf("dials = %d, want 3", n)
	}

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after giving up")
	}
	if !errors.Is(c.Err(), ErrReconnectAborted) || !errors.Is(c.Err(), ErrMaxAttempts) {
		t.Errorf("Err() = %v, want ErrReconnectAborted wrapping ErrMaxAttempts", c.Err())
	}
	if _, ok := c.Output().Receive(); ok {
		t.Error("output still open after giving up")
	}
}

func TestClient_GivesUpDuringReconnect(t *testing.T) {
	dialer := &fakeDialer{failAll: errors.New("no route to host")}
	c := NewClient(Config{URL: "ws://feed.test"},
		WithDialer(dialer),
		WithReconnectPolicy(&ExponentialBackoff{MaxAttempts: 2}),
		WithLogger(discardLogger()),
	)
	defer c.Stop()

	s := attach(c, newFakeConn())
	c.reconnect(s, causeStale)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client still running after reconnect gave up")
	}
	if !errors.Is(c.Err(), ErrReconnectAborted) {
		t.Errorf("Err() = %v, want ErrReconnectAborted", c.Err())
	}
}

func TestClient_StopCancelsBackoff(t *testing.T) {
	dialer := &fakeDialer{failAll: errors.New("connection refused")}
	c := NewClient(Config{URL: "ws://feed.test"},
		WithDialer(dialer),
		WithReconnectPolicy(&ExponentialBackoff{BaseDelay: time.Hour, Factor: 2}),
		WithLogger(discardLogger()),
	)

	errc := make(chan error, 1)
	go func() { errc <- c.Start(context.Background()) }()

	waitFor(t, "first dial", func() bool { return dialer.dialCount() >= 1 })
	c.Stop()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop did not interrupt the backoff wait")
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err() = %v, want nil after Stop", err)
	}
}

func TestClient_ContextCancelStops(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client still running after context cancel")
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	waitFor(t, "connection closed", func() bool { return dialer.conn(0).isClosed() })
}
