/*
Package wsconn adapts a gorilla websocket connection to the presence transport contract.

Every socket runs two pumps: WritePump drains the buffered send queue and keeps the
connection alive with pings, ReadPump enforces the pong deadline and notices when the
peer goes away. Events are written as JSON text frames {"event": ..., "args": [...]}.
*/
package wsconn

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"hzpresence/internal/app/presence"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 4096

	// sendQueueSize is the capacity of the outbound queue.
	sendQueueSize = 256
)

var (
	// ErrClosed is returned by Send once Close has been called or the peer went away.
	ErrClosed = errors.New("websocket connection closed")

	// ErrQueueFull is returned by Send when the client does not keep up.
	ErrQueueFull = errors.New("client send queue full")
)

// frame is one queued outbound item. A closing frame ends the write loop.
type frame struct {
	data    []byte
	closing bool
	reason  string
}

// Conn is one websocket client connection.
type Conn struct {
	conn *websocket.Conn

	// mu orders Send against Close so nothing is queued behind the close frame.
	mu      sync.Mutex
	closing bool
	send    chan frame

	done     chan struct{}
	doneOnce sync.Once

	logger zerolog.Logger
}

var _ presence.Conn = (*Conn)(nil)

// New wraps an upgraded websocket connection. The caller starts ReadPump and WritePump.
func New(wsConn *websocket.Conn, logger zerolog.Logger) *Conn {
	return &Conn{
		conn:   wsConn,
		send:   make(chan frame, sendQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send queues ev for delivery.
func (c *Conn) Send(ev presence.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return ErrClosed
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- frame{data: data}:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Str("event", ev.Name).Msg("Client send channel full, dropping event")
		return ErrQueueFull
	}
}

// Close queues a going-away close frame behind any pending events. When the queue is
// full the connection is torn down immediately.
func (c *Conn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return nil
	}
	c.closing = true

	select {
	case c.send <- frame{closing: true, reason: reason}:
		return nil
	default:
		c.logger.Warn().Str("reason", reason).Msg("Send queue full on close, dropping pending events.")
		return c.conn.Close()
	}
}

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) markDone() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
}

// ReadPump reads until the peer disconnects or the pong deadline passes. Inbound
// application frames are discarded. It must run on its own goroutine.
func (c *Conn) ReadPump() {
	defer func() {
		c.markDone()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in ReadPump")
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			return
		}

		c.logger.Debug().Int("msg_type", msgType).Msg("Discarding inbound frame")
	}
}

// WritePump writes queued frames and periodic pings until a close frame is written,
// a write fails, or the peer goes away. It must run on its own goroutine.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case f := <-c.send:
			if !c.writeFrame(f) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}

		case <-c.done:
			return
		}
	}
}

// writeFrame writes one queued frame.
// Returns true if the WritePump loop should continue, false if it should terminate.
func (c *Conn) writeFrame(f frame) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if f.closing {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, f.reason)
		if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
			c.logger.Warn().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
		c.logger.Error().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// writePingMessage sends a periodic WebSocket Ping message to maintain the connection heartbeat.
// Returns false if the WritePump loop should terminate due to write failure.
func (c *Conn) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}
