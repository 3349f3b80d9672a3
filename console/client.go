// Package console is a websocket client for the bot's console transport.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nicebartender/cmebot/db"
	"github.com/nicebartender/cmebot/ws"
)

const requestTimeout = 30 * time.Second

var ErrClosed = errors.New("connection closed")

type Client struct {
	url         string
	token       string
	clientID    string
	displayName string

	conn   *websocket.Conn
	mu     sync.Mutex
	nextID atomic.Int64

	pending   map[string]chan wireMessage
	pendingMu sync.Mutex

	challenge chan string
	messages  chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// Wire format, mirrors ws/protocol.go
type wireMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  interface{}     `json:"params,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ws.RPCError    `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
}

// Message is a chat.message or chat.delete pushed by the bot.
type Message struct {
	Deleted bool
	ws.MessagePayload
}

func NewClient(url, token, clientID, displayName string) *Client {
	return &Client{
		url:         url,
		token:       token,
		clientID:    clientID,
		displayName: displayName,
		pending:     make(map[string]chan wireMessage),
		challenge:   make(chan string, 1),
		messages:    make(chan Message, 32),
		done:        make(chan struct{}),
	}
}

// WebsocketURL turns host:port or an http(s) URL into the /ws endpoint.
func WebsocketURL(raw string) string {
	u := strings.TrimSuffix(raw, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "ws://"), strings.HasPrefix(u, "wss://"):
	default:
		u = "ws://" + u
	}
	if !strings.HasSuffix(u, "/ws") {
		u += "/ws"
	}
	return u
}

// Messages delivers bot output. It is closed when the connection ends.
// Messages arriving while its buffer is full are dropped.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

func (c *Client) Connect(ctx context.Context) error {
	wsURL := WebsocketURL(c.url)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop()

	if err := c.authenticate(ctx); err != nil {
		c.Close()
		return fmt.Errorf("auth: %w", err)
	}

	slog.Debug("console: connected", "url", wsURL)
	return nil
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != nil {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.conn.Close()
		}
	})
}

func (c *Client) readLoop() {
	defer func() {
		close(c.done)
		close(c.messages)
	}()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("console readLoop ended", "err", err)
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "res":
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- msg
			}

		case "event":
			c.handleEvent(msg)
		}
	}
}

func (c *Client) handleEvent(msg wireMessage) {
	switch msg.Event {
	case ws.EventChallenge:
		var payload struct {
			Nonce string `json:"nonce"`
		}
		json.Unmarshal(msg.Payload, &payload)
		select {
		case c.challenge <- payload.Nonce:
		default:
		}

	case ws.EventMessage:
		var m Message
		if err := json.Unmarshal(msg.Payload, &m.MessagePayload); err != nil {
			return
		}
		c.deliver(m)

	case ws.EventDelete:
		var d ws.DeletePayload
		if err := json.Unmarshal(msg.Payload, &d); err != nil {
			return
		}
		c.deliver(Message{Deleted: true, MessagePayload: ws.MessagePayload{MessageID: d.MessageID, ChannelID: d.ChannelID}})
	}
}

// deliver never blocks readLoop, so responses keep flowing while Messages
// is not being drained.
func (c *Client) deliver(m Message) {
	select {
	case c.messages <- m:
	default:
		slog.Warn("console: message buffer full, dropping", "messageID", m.MessageID)
	}
}

func (c *Client) send(ctx context.Context, method string, params interface{}) (wireMessage, error) {
	id := fmt.Sprintf("cli-%d", c.nextID.Add(1))

	ch := make(chan wireMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	forget := func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}

	data, err := json.Marshal(wireMessage{Type: "req", ID: id, Method: method, Params: params})
	if err != nil {
		forget()
		return wireMessage{}, err
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		forget()
		return wireMessage{}, fmt.Errorf("not connected")
	}
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.mu.Unlock()
	if err != nil {
		forget()
		return wireMessage{}, err
	}

	select {
	case resp := <-ch:
		if !resp.OK {
			if resp.Error != nil {
				return resp, fmt.Errorf("%s: %s: %s", method, resp.Error.Code, resp.Error.Message)
			}
			return resp, fmt.Errorf("%s rejected", method)
		}
		return resp, nil
	case <-time.After(requestTimeout):
		forget()
		return wireMessage{}, fmt.Errorf("timeout waiting for %s response", method)
	case <-ctx.Done():
		forget()
		return wireMessage{}, ctx.Err()
	case <-c.done:
		return wireMessage{}, ErrClosed
	}
}

func (c *Client) authenticate(ctx context.Context) error {
	var nonce string
	select {
	case nonce = <-c.challenge:
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timeout waiting for challenge")
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed before challenge")
	}

	params := ws.ConnectParams{
		Client: &ws.ConnectClient{ID: c.clientID, DisplayName: c.displayName, Version: "1"},
		Auth:   &ws.ConnectAuth{Token: c.token},
		Nonce:  nonce,
	}
	_, err := c.send(ctx, "connect", params)
	return err
}

// Say sends chat text to the bot. Replies arrive on Messages.
func (c *Client) Say(ctx context.Context, content string) error {
	_, err := c.send(ctx, "chat.send", map[string]interface{}{"content": content})
	return err
}

// History returns recent command log entries; userID "" lists all users.
func (c *Client) History(ctx context.Context, userID string, limit int) ([]db.CommandLog, error) {
	resp, err := c.send(ctx, "history.list", map[string]interface{}{"userId": userID, "limit": limit})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Commands []db.CommandLog `json:"commands"`
	}
	if err := json.Unmarshal(resp.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return payload.Commands, nil
}
