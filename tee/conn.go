package tee

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("connection closed")

var noDeadline time.Time

// Conn is an open request channel.
type Conn interface {
	// Send writes v as a JSON text message.
	Send(ctx context.Context, v any) error
	// Messages delivers every text message received.
	Messages() <-chan []byte
	// Done is closed once the connection is gone.
	Done() <-chan struct{}
	// Err reports why the connection closed.
	Err() error
	Close() error
}

// Dialer opens request channels.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer opens request channels with gorilla/websocket.
type WSDialer struct {
	Dialer *websocket.Dialer
}

// Dial connects to url and starts the read loop.
func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	return newWSConn(ws), nil
}

type wsConn struct {
	ws       *websocket.Conn
	messages chan []byte
	done     chan struct{}
	stop     chan struct{}

	writeMu sync.Mutex

	mu     sync.Mutex
	err    error
	closed bool
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{
		ws:       ws,
		messages: make(chan []byte, 16),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *wsConn) readLoop() {
	defer close(c.done)
	defer close(c.messages)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		select {
		case c.messages <- data:
		case <-c.stop:
			c.finish(ErrClosed)
			return
		}
	}
}

func (c *wsConn) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		if c.closed {
			c.err = ErrClosed
		} else {
			c.err = err
		}
	}
}

func (c *wsConn) Send(ctx context.Context, v any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
		defer c.ws.SetWriteDeadline(noDeadline)
	}
	if err := c.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (c *wsConn) Messages() <-chan []byte { return c.messages }

func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	return c.ws.Close()
}
