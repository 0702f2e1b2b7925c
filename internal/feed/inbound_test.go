package feed

import (
	"testing"
	"time"
)

func TestInboundLoop_Routing(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, clock)

	conn := newFakeConn()
	s := attach(c, conn)
	loop := &inboundLoop{c: c, s: s}

	clock.Advance(5 * time.Second)
	conn.deliver(
		`{"type":"subscriptions","channels":[{"name":"heartbeat","product_ids":["BTC-USD"]}]}`,
		`{"type":"heartbeat","product_id":"BTC-USD","sequence":10}`,
		`{"type":"error","message":"Failed to subscribe","reason":"BAD-PAIR is not a valid product"}`,
		`{"type":"match","product_id":"BTC-USD","sequence":11,"price":"42000.00"}`,
	)
	for i := 0; i < 4; i++ {
		if !loop.step() {
			t.Fatalf("step %d returned false", i)
		}
	}

	// Only non-control messages are forwarded, in arrival order.
	var types []string
	for {
		msg, ok := c.Output().TryReceive()
		if !ok {
			break
		}
		types = append(types, msg.Type)
	}
	if len(types) != 2 || types[0] != "subscriptions" || types[1] != "match" {
		t.Errorf("forwarded types = %v, want [subscriptions match]", types)
	}

	stats := c.Stats()
	if stats.MessagesReceived != 4 {
		t.Errorf("MessagesReceived = %d, want 4", stats.MessagesReceived)
	}
	if stats.MessagesOutput != 2 {
		t.Errorf("MessagesOutput = %d, want 2", stats.MessagesOutput)
	}
	if stats.Heartbeats != 1 {
		t.Errorf("Heartbeats = %d, want 1", stats.Heartbeats)
	}
	if stats.ProtocolErrors != 1 {
		t.Errorf("ProtocolErrors = %d, want 1", stats.ProtocolErrors)
	}
	if !stats.LastHeartbeat.Equal(clock.Now()) {
		t.Errorf("LastHeartbeat = %v, want %v", stats.LastHeartbeat, clock.Now())
	}

	// An error message is not a connection failure.
	if n := dialer.dialCount(); n != 0 {
		t.Errorf("dials = %d, want 0", n)
	}
}

func TestInboundLoop_PassthroughKeepsFrame(t *testing.T) {
	clock := newFakeClock()
	c := newTestClient(t, &fakeDialer{}, clock)

	conn := newFakeConn()
	s := attach(c, conn)

	frame := `{"type":"ticker","product_id":"ETH-USD","sequence":7,"price":"2500.10"}`
	conn.deliver(frame)
	(&inboundLoop{c: c, s: s}).step()

	msg, ok := c.Output().TryReceive()
	if !ok {
		t.Fatal("nothing forwarded")
	}
	if string(msg.Raw) != frame {
		t.Errorf("Raw = %s, want %s", msg.Raw, frame)
	}
	if msg.ProductID != "ETH-USD" || msg.Sequence != 7 {
		t.Errorf("envelope = %q/%d", msg.ProductID, msg.Sequence)
	}
	if !msg.ReceivedAt.Equal(clock.Now()) {
		t.Errorf("ReceivedAt = %v, want %v", msg.ReceivedAt, clock.Now())
	}
}

func TestInboundLoop_FailuresReconnect(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeConn)
	}{
		{"invalid json", func(f *fakeConn) { f.deliver(`{"type":`) }},
		{"missing type", func(f *fakeConn) { f.deliver(`{"product_id":"BTC-USD"}`) }},
		{"receive error", func(f *fakeConn) { f.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &fakeDialer{}
			c := newTestClient(t, dialer, newFakeClock())

			conn := newFakeConn()
			s := attach(c, conn)
			tt.setup(conn)

			if (&inboundLoop{c: c, s: s}).step() {
				t.Fatal("step() = true after a failure")
			}
			if n := dialer.dialCount(); n != 1 {
				t.Errorf("dials = %d, want 1", n)
			}
			if got := c.Output().Len(); got != 0 {
				t.Errorf("forwarded %d messages, want 0", got)
			}
		})
	}
}

func TestInboundLoop_CloseUnblocksReceive(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, newFakeClock())

	conn := newFakeConn()
	s := attach(c, conn)

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		(&inboundLoop{c: c, s: s}).run()
	}()

	// Let the loop block in Receive.
	time.Sleep(20 * time.Millisecond)
	c.Stop()

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("Stop did not unblock the inbound loop")
	}

	conn.deliver(`{"type":"match","product_id":"BTC-USD"}`)
	if got := c.Stats().MessagesReceived; got != 0 {
		t.Errorf("MessagesReceived = %d, want 0", got)
	}
	if n := dialer.dialCount(); n != 0 {
		t.Errorf("dials = %d, want 0 after Stop", n)
	}
	if _, ok := c.Output().Receive(); ok {
		t.Error("output still open after Stop")
	}
}

func TestInboundLoop_SequenceGaps(t *testing.T) {
	clock := newFakeClock()
	c := newTestClient(t, &fakeDialer{}, clock)
	c.cfg.DetectSequenceGaps = true

	conn := newFakeConn()
	s := attach(c, conn)
	loop := &inboundLoop{c: c, s: s}

	conn.deliver(
		`{"type":"received","product_id":"BTC-USD","sequence":1}`,
		`{"type":"open","product_id":"BTC-USD","sequence":2}`,
		`{"type":"received","product_id":"ETH-USD","sequence":100}`,
		`{"type":"done","product_id":"BTC-USD","sequence":5}`,
		`{"type":"open","product_id":"BTC-USD","sequence":4}`,
	)
	for i := 0; i < 5; i++ {
		loop.step()
	}

	var gaps []Message
	for {
		msg, ok := c.Output().TryReceive()
		if !ok {
			break
		}
		if msg.SeqGap {
			gaps = append(gaps, msg)
		}
	}

	if len(gaps) != 1 {
		t.Fatalf("gaps = %d, want 1", len(gaps))
	}
	if gaps[0].Sequence != 5 || gaps[0].GapSize != 2 {
		t.Errorf("gap at %d size %d, want 5 size 2", gaps[0].Sequence, gaps[0].GapSize)
	}
	if got := c.Stats().SequenceGaps; got != 1 {
		t.Errorf("SequenceGaps = %d, want 1", got)
	}
	if got := c.Stats().MessagesOutput; got != 5 {
		t.Errorf("MessagesOutput = %d, want 5 (gaps are flagged, not dropped)", got)
	}
}
