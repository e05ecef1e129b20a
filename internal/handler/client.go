package handler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rendezvous/internal/auth"
	"rendezvous/internal/hub"
	"rendezvous/internal/model"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong (or any frame) from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 << 10
	sendBufferSize = 256
)

// Client is one authenticated WebSocket connection. The identity is fixed at
// handshake and is the only identity used for anything the connection does.
type Client struct {
	id       string
	identity auth.Identity
	conn     *websocket.Conn
	send     chan model.Event
	done     chan struct{}
	once     sync.Once
	logger   *slog.Logger
}

func newClient(id string, identity auth.Identity, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:       id,
		identity: identity,
		conn:     conn,
		send:     make(chan model.Event, sendBufferSize),
		done:     make(chan struct{}),
		logger:   logger.With("connection_id", id, "user_id", identity.UserID),
	}
}

func (c *Client) ID() string              { return c.id }
func (c *Client) UserID() string          { return c.identity.UserID }
func (c *Client) Identity() auth.Identity { return c.identity }

// Send queues an event for the write pump without blocking. A client whose
// queue is full has fallen behind and is disconnected; it resyncs through
// history after reconnecting.
func (c *Client) Send(event model.Event) error {
	select {
	case <-c.done:
		return hub.ErrPeerClosed
	default:
	}

	select {
	case c.send <- event:
		return nil
	default:
		c.logger.Warn("send queue full, closing slow connection", "event", event.Event)
		c.Close()
		return hub.ErrQueueFull
	}
}

// Close stops both pumps. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// readPump reads frames until the connection fails or is closed, handing each
// one to dispatch.
func (c *Client) readPump(dispatch func(c *Client, data []byte)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		dispatch(c, data)
	}
}

// writePump is the only writer on the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.Debug("websocket write error", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
