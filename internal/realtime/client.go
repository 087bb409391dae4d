package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Outbound queue depth per connection
	sendBuffer = 256
)

// Client owns one websocket transport session. It implements Sender so the
// dispatcher can deliver encoded events through its ordered outbound queue.
type Client struct {
	conn       *websocket.Conn
	router     *Router
	connection *Connection

	// send is never closed: publishers on other goroutines race with
	// teardown, so writePump exits on ctx.Done instead of a channel close.
	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	closed int32

	wg sync.WaitGroup
}

// ServeWS upgrades nothing itself; the HTTP layer has already upgraded the
// connection and verified the user. It binds the transport to a registry
// connection and starts the pumps.
func ServeWS(router *Router, conn *websocket.Conn, userID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		conn:   conn,
		router: router,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	client.connection = NewConnection(uuid.New().String(), userID, client)

	router.OnConnect(client.connection)

	go client.writePump()
	go client.readPump()

	slog.Info("WebSocket session started", "connID", client.connection.ID, "userID", userID)
	return client
}

// ConnectionID returns the registry connection identifier.
func (c *Client) ConnectionID() string {
	return c.connection.ID
}

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// Send queues encoded event bytes for ordered delivery. A full queue means
// the client cannot keep up; the session is torn down rather than blocking
// the publisher.
func (c *Client) Send(data []byte) error {
	if c.isClosed() {
		return ErrClientDisconnected
	}
	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientDisconnected
	default:
		slog.Warn("Send buffer full, closing client", "connID", c.connection.ID, "userID", c.connection.UserID)
		c.Close()
		return ErrClientDisconnected
	}
}

// Close marks the session closed and tears down the transport. Safe to call
// more than once; the read pump runs the disconnect path exactly once.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.cancel()
	return c.conn.Close()
}

func (c *Client) readPump() {
	c.wg.Add(1)
	defer func() {
		c.wg.Done()
		c.Close()
		c.router.OnDisconnect(c.connection.ID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if c.isClosed() {
			return websocket.ErrCloseSent
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		// A pong is as good as an explicit heartbeat event.
		c.router.TouchHeartbeat(c.connection.ID)
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "connID", c.connection.ID, "userID", c.connection.UserID, "error", err)
			} else {
				slog.Debug("WebSocket connection closed", "connID", c.connection.ID, "userID", c.connection.UserID, "error", err)
			}
			return
		}

		c.router.HandleInbound(c.ctx, c.connection, raw)
	}
}

func (c *Client) writePump() {
	c.wg.Add(1)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		c.wg.Done()
		ticker.Stop()
	}()

	for {
		select {
		case data := <-c.send:
			if c.isClosed() {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				slog.Debug("Error getting next writer", "connID", c.connection.ID, "error", err)
				return
			}
			if _, err := w.Write(data); err != nil {
				w.Close()
				return
			}

			// Drain queued events into the same websocket frame batch,
			// preserving queue order.
			n := len(c.send)
			for i := 0; i < n; i++ {
				queued := <-c.send
				w.Write([]byte{'\n'})
				w.Write(queued)
			}

			if err := w.Close(); err != nil {
				slog.Debug("Error closing writer", "connID", c.connection.ID, "error", err)
				return
			}

		case <-ticker.C:
			if c.isClosed() {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("Error sending ping", "connID", c.connection.ID, "error", err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Upgrader is shared by the HTTP layer; origin policy belongs to the CORS
// middleware in front of it.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}
