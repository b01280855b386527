package hub

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/PrajwalMundargi/codetogether-backend/internal/logging"
	"github.com/PrajwalMundargi/codetogether-backend/pkg/protocol"
)

// Conn is the subset of *websocket.Conn the hub writes through.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ErrClientClosed is returned when queueing on a closed client.
var ErrClientClosed = errors.New("client closed")

const sendBuffer = 256

// Client is one connected user. All writes go through a single buffered
// channel drained by the write pump, which preserves per-client ordering.
type Client struct {
	ID       string
	Username string

	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps a connection. Call Run to start the write pump.
func NewClient(id, username string, conn Conn) *Client {
	return &Client{
		ID:       id,
		Username: username,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

// Run drains the send queue onto the connection until the client closes.
func (c *Client) Run() {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Send marshals and queues one event frame. A full queue means the client
// cannot keep up; the connection is dropped rather than blocking the room.
func (c *Client) Send(event string, payload any) error {
	frame, err := protocol.Encode(event, 0, payload)
	if err != nil {
		return err
	}
	return c.SendRaw(frame)
}

// SendRaw queues a pre-encoded frame.
func (c *Client) SendRaw(frame []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		logging.Warn("send queue full, dropping client",
			zap.String("user", c.ID), zap.String("username", c.Username))
		c.Close()
		return ErrClientClosed
	}
}

// Close shuts down the write pump and the underlying connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Done is closed when the client shuts down.
func (c *Client) Done() <-chan struct{} { return c.done }
