package feed

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no heartbeat)")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrAlreadyStarted   = errors.New("already started")
	ErrMissingType      = errors.New("message has no type")
	ErrReconnectAborted = errors.New("reconnect aborted")
)

// Message types with special handling on the inbound path.
const (
	TypeHeartbeat = "heartbeat"
	TypeError     = "error"
	TypeSubscribe = "subscribe"
)

// Message is a decoded inbound frame.
type Message struct {
	Type      string    `json:"type"`
	ProductID string    `json:"product_id,omitempty"`
	Sequence  int64     `json:"sequence,omitempty"`
	Time      time.Time `json:"time,omitempty"`
	Message   string    `json:"message,omitempty"` // error messages only
	Reason    string    `json:"reason,omitempty"`  // error messages only

	Raw        json.RawMessage `json:"-"` // Frame bytes as received
	ReceivedAt time.Time       `json:"-"` // Local timestamp when Receive returned
	SeqGap     bool            `json:"-"` // True if a sequence gap preceded this message
	GapSize    int64           `json:"-"` // Number of missed sequence numbers
}

// Decode unmarshals the raw frame into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Raw, v)
}

// decodeMessage parses one frame. The type discriminator is the only field
// that is required.
func decodeMessage(data []byte, receivedAt time.Time) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		// Envelope fields are best effort.
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			return Message{}, err
		}
		msg = Message{Type: head.Type}
	}
	if msg.Type == "" {
		return Message{}, ErrMissingType
	}
	msg.Raw = data
	msg.ReceivedAt = receivedAt
	return msg, nil
}

// Command is an outbound control message. It always carries the complete
// product and channel lists, never a delta.
type Command struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// SessionState is the lifecycle state of one connection instance.
type SessionState int32

const (
	StateStarting SessionState = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s SessionState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Stats provides statistics about the client.
type Stats struct {
	Connected        bool
	SessionState     string
	Reconnects       int64
	MessagesReceived int64
	MessagesOutput   int64
	Heartbeats       int64
	ProtocolErrors   int64
	CommandsSent     int64
	PingsSent        int64
	SequenceGaps     int64
	PendingCommands  int
	OutputBacklog    int
	LastHeartbeat    time.Time
}
