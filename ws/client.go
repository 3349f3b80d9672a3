package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait       = 10 * time.Second
	defaultPongWait = 60 * time.Second
	maxMsgSize      = 64 << 10

	// Requests waiting for the worker; more are refused as busy.
	jobQueueSize = 4

	// Inbound request budget per connection.
	requestRate  = 2
	requestBurst = 5
)

type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	jobs      chan func()
	done      chan struct{} // closed on unregister
	channelID string
	limiter   *rate.Limiter
	pongWait  time.Duration
	mu        sync.RWMutex

	// Auth state
	challengeNonce string
	authenticated  bool
	userID         string
	displayName    string
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	pongWait := hub.PongWait
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 64),
		jobs:      make(chan func(), jobQueueSize),
		done:      make(chan struct{}),
		channelID: "ws-" + uuid.NewString(),
		limiter:   rate.NewLimiter(rate.Limit(requestRate), requestBurst),
		pongWait:  pongWait,
	}
}

// ChannelID identifies this connection as a chat channel.
func (c *Client) ChannelID() string {
	return c.channelID
}

func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Client) DisplayName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.displayName
}

func (c *Client) SetAuth(userID, displayName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.authenticated = true
	c.displayName = displayName
}

func (c *Client) setNonce(nonce string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.challengeNonce = nonce
}

func (c *Client) nonce() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.challengeNonce
}

// SendJSON queues v for the write pump. It reports false when the message was
// dropped because the client is gone or its buffer is full.
func (c *Client) SendJSON(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal error", "err", err)
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		slog.Warn("client send buffer full, dropping message", "channelID", c.channelID)
		return false
	}
}

// Enqueue hands fn to the client's worker. Jobs run one at a time in arrival
// order, off the read pump. It reports false when the client is gone or the
// queue is full.
func (c *Client) Enqueue(fn func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.jobs <- fn:
		return true
	default:
		return false
	}
}

// WorkPump runs queued jobs until the client is unregistered.
func (c *Client) WorkPump() {
	for {
		select {
		case <-c.done:
			return
		case fn := <-c.jobs:
			fn()
		}
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Info("client disconnected", "err", err)
			}
			return
		}
		c.hub.handleMessage(c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
