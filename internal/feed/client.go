package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/coinbase-feed/internal/queue"
)

// Reconnect causes, used in logs and metrics.
const (
	causeStart   = "start"
	causeStale   = "stale"
	causeReceive = "receive"
	causeDecode  = "decode"
	causeWrite   = "write"
)

// Client maintains one live feed connection, replacing it whenever either
// loop reports a failure.
type Client struct {
	cfg       Config
	logger    *slog.Logger
	dialer    Dialer
	policy    ReconnectPolicy
	telemetry *Telemetry
	now       func() time.Time

	subs     *subscription
	commands *queue.Queue[Command]
	output   *queue.Queue[Message]

	// Unix nanos of the last heartbeat. Written by the inbound loop, read
	// by the outbound loop.
	lastHeartbeat atomic.Int64

	ctx        context.Context
	cancel     context.CancelFunc
	stopParent func() bool
	wg         sync.WaitGroup

	// mu serializes session replacement and shutdown. current is written
	// only under mu and may be read without it.
	mu         sync.Mutex
	current    atomic.Pointer[session]
	started    bool
	stopped    bool
	stopLogged atomic.Bool
	err        error // set before done is closed
	done       chan struct{}

	seqMu   sync.Mutex
	lastSeq map[string]int64 // product → last sequence

	reconnects     atomic.Int64
	received       atomic.Int64
	forwarded      atomic.Int64
	heartbeats     atomic.Int64
	protocolErrors atomic.Int64
	commandsSent   atomic.Int64
	pingsSent      atomic.Int64
	sequenceGaps   atomic.Int64
}

// NewClient creates a feed client. Nothing is dialed until Start.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.applyDefaults()

	c := &Client{
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
		subs:     newSubscription(TypeHeartbeat),
		commands: queue.New[Command](cfg.CommandBufferSize),
		output:   queue.New[Message](cfg.OutputBufferSize),
		done:     make(chan struct{}),
		lastSeq:  make(map[string]int64),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewWebsocketDialer(cfg.HandshakeTimeout, cfg.WriteTimeout)
	}
	if c.policy == nil {
		c.policy = NewExponentialBackoff(cfg)
	}

	return c
}

// Start opens the first connection. Cancelling ctx later shuts the client
// down like Stop.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.stopParent = context.AfterFunc(ctx, c.cancel)
	c.mu.Unlock()

	if err := c.reconnect(nil, causeStart); err != nil {
		return fmt.Errorf("connect %s: %w", c.cfg.URL, err)
	}

	c.logger.Info("feed client started", "url", c.cfg.URL)
	return nil
}

// Stop halts both loops, closes the connection and closes the output
// queue. It is safe to call at any time and more than once.
func (c *Client) Stop() {
	c.cancel()

	c.mu.Lock()
	c.terminateLocked(nil)
	if c.stopParent != nil {
		c.stopParent()
	}
	c.mu.Unlock()

	c.wg.Wait()

	if !c.stopLogged.Swap(true) {
		c.logger.Info("feed client stopped", "reconnects", c.reconnects.Load())
	}
}

// shutdown stops the client after its context was cancelled.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminateLocked(nil)
}

// Subscribe merges products and channels into the subscription and queues
// a subscribe command carrying the complete lists.
func (c *Client) Subscribe(products, channels []string) {
	c.subs.merge(products, channels, func(cmd Command) {
		c.commands.Send(cmd)
		c.logger.Debug("subscribe queued",
			"products", len(cmd.ProductIDs),
			"channels", cmd.Channels,
		)
	})
}

// Subscriptions returns the current product and channel lists.
func (c *Client) Subscriptions() (products, channels []string) {
	return c.subs.snapshot()
}

// Output returns the queue of decoded application messages. It is closed
// when the client stops.
func (c *Client) Output() *queue.Queue[Message] {
	return c.output
}

// Done is closed when the client has stopped for good.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the client stopped on its own. It is nil while running
// and after Stop or context cancellation.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Stats returns current statistics.
func (c *Client) Stats() Stats {
	sess := c.current.Load()
	stats := Stats{
		SessionState:     StateStopped.String(),
		Reconnects:       c.reconnects.Load(),
		MessagesReceived: c.received.Load(),
		MessagesOutput:   c.forwarded.Load(),
		Heartbeats:       c.heartbeats.Load(),
		ProtocolErrors:   c.protocolErrors.Load(),
		CommandsSent:     c.commandsSent.Load(),
		PingsSent:        c.pingsSent.Load(),
		SequenceGaps:     c.sequenceGaps.Load(),
		PendingCommands:  c.commands.Len(),
		OutputBacklog:    c.output.Len(),
	}
	if sess != nil {
		state := sess.State()
		stats.SessionState = state.String()
		stats.Connected = state == StateRunning
	}
	if ns := c.lastHeartbeat.Load(); ns != 0 {
		stats.LastHeartbeat = time.Unix(0, ns)
	}
	return stats
}

// reconnect replaces the session. from is the session whose loop detected
// the failure; a request from a session that is no longer current is
// ignored, so both loops reporting the same failure cause one replacement.
func (c *Client) reconnect(from *session, cause string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || c.current.Load() != from {
		return nil
	}

	if from != nil {
		c.logger.Info("reconnecting", "session", from.id.String(), "cause", cause)
		from.stop()
		c.current.Store(nil)
		c.reconnects.Add(1)
		c.telemetry.recordConnectionDown(c.ctx)
		c.telemetry.recordReconnect(c.ctx, cause)
	}

	conn, err := c.dial()
	if err != nil {
		if c.ctx.Err() != nil {
			c.terminateLocked(nil)
			return c.ctx.Err()
		}
		c.logger.Error("giving up on feed connection", "error", err)
		c.terminateLocked(err)
		return err
	}

	c.lastHeartbeat.Store(c.now().UnixNano())

	sess := newSession(conn, c.logger)
	c.current.Store(sess)
	c.startLoops(sess)
	c.telemetry.recordConnectionUp(c.ctx)

	sess.logger.Info("feed connected", "url", c.cfg.URL, "cause", cause)

	if c.subs.hasProducts() {
		products, channels := c.subs.snapshot()
		c.Subscribe(products, channels)
	}

	return nil
}

// dial opens a connection, waiting between attempts as the policy directs.
func (c *Client) dial() (Conn, error) {
	var lastErr error

	for attempt := 1; ; attempt++ {
		wait, err := c.policy.Delay(attempt)
		if err != nil {
			return nil, fmt.Errorf("%w: %w (last error: %v)", ErrReconnectAborted, err, lastErr)
		}

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-c.ctx.Done():
				timer.Stop()
				return nil, c.ctx.Err()
			case <-timer.C:
			}
		}

		conn, err := c.dialer.Dial(c.ctx, c.cfg.URL)
		if err == nil {
			return conn, nil
		}
		if c.ctx.Err() != nil {
			return nil, c.ctx.Err()
		}

		lastErr = err
		c.logger.Warn("connect failed",
			"url", c.cfg.URL,
			"attempt", attempt,
			"error", err,
		)
	}
}

// startLoops launches the inbound and outbound loops for s. Must be called
// with mu held.
func (c *Client) startLoops(s *session) {
	s.bind(2)
	c.wg.Add(2)
	go c.runLoop(s, (&inboundLoop{c: c, s: s}).run)
	go c.runLoop(s, (&outboundLoop{c: c, s: s}).run)
}

func (c *Client) runLoop(s *session, run func()) {
	defer c.wg.Done()
	defer s.loopExited()
	run()
}

// terminateLocked shuts the client down. Must be called with mu held.
func (c *Client) terminateLocked(err error) {
	if c.stopped {
		return
	}
	c.stopped = true
	c.err = err
	c.cancel()

	if sess := c.current.Swap(nil); sess != nil {
		sess.stop()
		c.telemetry.recordConnectionDown(context.Background())
	}

	c.output.Close()
	close(c.done)
}

// checkSequence flags a gap between msg and the previous message for the
// same product.
func (c *Client) checkSequence(msg *Message) {
	if !c.cfg.DetectSequenceGaps || msg.ProductID == "" || msg.Sequence == 0 {
		return
	}

	c.seqMu.Lock()
	last, seen := c.lastSeq[msg.ProductID]
	if !seen || msg.Sequence > last {
		c.lastSeq[msg.ProductID] = msg.Sequence
	}
	c.seqMu.Unlock()

	if !seen || msg.Sequence <= last+1 {
		return
	}

	msg.SeqGap = true
	msg.GapSize = msg.Sequence - last - 1
	c.sequenceGaps.Add(1)
	c.telemetry.recordSequenceGap(c.ctx, msg.ProductID)

	c.logger.Warn("sequence gap detected",
		"product_id", msg.ProductID,
		"expected", last+1,
		"got", msg.Sequence,
		"gap", msg.GapSize,
	)
}
