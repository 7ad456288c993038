package feed

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// CloseResubscribe tells a websocket subscriber that the server ended its
	// subscription and it should reconnect.
	CloseResubscribe = 4000
)

var errConnectionClosed = errors.New("feed: connection closed")

// Connection wraps a websocket and serializes outbound writes through a
// buffered channel drained by a single write loop.
type Connection struct {
	ws    *websocket.Conn
	send  chan []byte
	once  sync.Once
	close chan struct{}
}

func NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ws:    ws,
		send:  make(chan []byte, DefaultBuffer),
		close: make(chan struct{}),
	}
}

// Start launches the write loop. It must be called exactly once.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues payload. A full buffer closes the connection so the peer
// resubscribes instead of silently missing events.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.close:
		return errConnectionClosed
	default:
	}
	select {
	case <-c.close:
		return errConnectionClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(CloseResubscribe, "send buffer full")
		return errors.New("feed: connection buffer exceeded")
	}
}

// Close sends a close frame and tears the socket down. Safe to call more
// than once.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.close
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
