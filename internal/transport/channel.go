// Package transport carries the session data channel: a WebSocket the
// hosting runtime uses to deliver elapsed-time signals and receive
// control events. The interview core treats it as an opaque handle it
// configures once and never reasons about again.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Message is the JSON envelope exchanged over the data channel.
// Inbound types: "time_update" (with Elapsed) and "goodbye".
// Outbound types: "greeting" (with Instruction) and "wrap_up".
type Message struct {
	Type        string `json:"type"`
	Elapsed     int    `json:"elapsed,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

// LifecycleSink receives inbound lifecycle signals from the channel.
type LifecycleSink interface {
	HandleTimeUpdate(ctx context.Context, elapsedSeconds int) bool
	MarkGoodbye()
}

// ErrNotConnected is returned when an outbound message is attempted
// before the hosting runtime has attached its connection.
var ErrNotConnected = errors.New("data channel not connected")

// Channel is a session transport handle. It starts detached; the
// hosting runtime attaches a WebSocket connection, may re-attach after
// a dropped connection, and the channel is closed exactly once (repeat
// closes are no-ops).
type Channel struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	logger *slog.Logger
}

// NewChannel creates a detached Channel.
func NewChannel(logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{logger: logger}
}

// Attach binds the hosting runtime's connection. A channel whose
// previous connection dropped accepts a new one; attaching while a
// connection is live or after Disconnect is an error.
func (c *Channel) Attach(conn *websocket.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("data channel already closed")
	}
	if c.conn != nil {
		return errors.New("data channel already attached")
	}
	c.conn = conn
	return nil
}

// detach clears the attached connection if it is still the one the
// read loop was serving. A newer Attach is left untouched.
func (c *Channel) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

// Greet triggers the initial greeting turn on the hosting runtime.
func (c *Channel) Greet(ctx context.Context, instruction string) error {
	return c.send(ctx, Message{Type: "greeting", Instruction: instruction})
}

// Notify pushes a control event (e.g. "wrap_up") to the hosting runtime.
func (c *Channel) Notify(ctx context.Context, event string) error {
	return c.send(ctx, Message{Type: event})
}

// Disconnect closes the channel. Idempotent: only the first call closes
// the underlying connection.
func (c *Channel) Disconnect(context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "session ended")
}

func (c *Channel) send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if closed || conn == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

// Serve reads inbound messages and dispatches them to the sink until the
// connection closes or ctx is cancelled. Malformed messages are logged
// and skipped; they never tear the session down. When the loop ends the
// connection is detached so the runtime can reconnect.
func (c *Channel) Serve(ctx context.Context, conn *websocket.Conn, sink LifecycleSink) {
	defer c.detach(conn)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.logger.Debug("data channel read ended", "error", err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("malformed data channel message", "error", err)
			continue
		}

		switch msg.Type {
		case "time_update":
			sink.HandleTimeUpdate(ctx, msg.Elapsed)
		case "goodbye":
			sink.MarkGoodbye()
		default:
			c.logger.Debug("ignoring data channel message", "type", msg.Type)
		}
	}
}
