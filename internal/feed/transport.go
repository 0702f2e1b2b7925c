package feed

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live connection to the feed.
type Conn interface {
	// Send writes one text frame.
	Send(data []byte) error

	// Receive blocks until one data frame arrives.
	Receive() ([]byte, error)

	// Ping sends a keepalive ping control frame.
	Ping() error

	// Close closes the connection. It unblocks a pending Receive and is
	// safe to call more than once.
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// websocketDialer dials with gorilla/websocket.
type websocketDialer struct {
	dialer       websocket.Dialer
	writeTimeout time.Duration
}

// NewWebsocketDialer returns the default Dialer.
func NewWebsocketDialer(handshakeTimeout, writeTimeout time.Duration) Dialer {
	return &websocketDialer{
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		writeTimeout: writeTimeout,
	}
}

// Dial opens a websocket connection.
func (d *websocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")

	conn, _, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}

	return &websocketConn{
		conn:         conn,
		writeTimeout: d.writeTimeout,
	}, nil
}

// websocketConn implements Conn.
type websocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// gorilla allows one concurrent writer
	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Send writes one text frame.
func (c *websocketConn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive returns the next text or binary frame.
func (c *websocketConn) Receive() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// Ping sends a ping control frame.
func (c *websocketConn) Ping() error {
	if c.closed.Load() {
		return ErrNotConnected
	}
	return c.conn.WriteControl(
		websocket.PingMessage,
		[]byte("keepalive"),
		time.Now().Add(c.writeTimeout),
	)
}

// Close sends a close frame and closes the socket.
func (c *websocketConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
