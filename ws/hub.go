package ws

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nicebartender/cmebot/bot"
)

// Hub tracks console connections and is the bot.Session for the console
// transport: each connection is its own channel.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	stopped    chan struct{} // closed when Run returns

	// channelID -> client, for outbound messages
	channels map[string]*Client
	mu       sync.RWMutex

	token        string
	TickInterval time.Duration
	// PongWait is how long a connection may stay silent before it is
	// dropped. Set before Run.
	PongWait  time.Duration
	RPCRouter func(client *Client, req RPCRequest)
}

// NewHub builds a hub that accepts clients presenting token. An empty token
// rejects every connect.
func NewHub(token string) *Hub {
	return &Hub{
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		stopped:      make(chan struct{}),
		channels:     make(map[string]*Client),
		token:        token,
		TickInterval: 15 * time.Second,
		PongWait:     defaultPongWait,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.clients[client] = true
			h.mu.Lock()
			h.channels[client.channelID] = client
			h.mu.Unlock()

			nonce := generateNonce()
			client.setNonce(nonce)
			client.SendJSON(NewEvent(EventChallenge, map[string]string{
				"nonce": nonce,
			}))
			slog.Info("console client connected, challenge sent", "channelID", client.channelID)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				slog.Info("console client unregistered", "userID", client.UserID())
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	h.mu.Lock()
	delete(h.channels, client.channelID)
	h.mu.Unlock()
	close(client.done)
}

func (h *Hub) closeAll() {
	for client := range h.clients {
		h.drop(client)
	}
}

// Register hands client to Run. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

func (h *Hub) client(channelID string) (*Client, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s not connected", channelID)
	}
	return c, nil
}

// Send implements bot.Session. Attachments are read now and sent inline.
func (h *Hub) Send(_ context.Context, channelID string, msg bot.Message) (string, error) {
	client, err := h.client(channelID)
	if err != nil {
		return "", err
	}

	payload := MessagePayload{
		MessageID:   uuid.NewString(),
		ChannelID:   channelID,
		Title:       msg.Notice.Title,
		Description: msg.Notice.Description,
		Severity:    msg.Notice.Severity.String(),
		Color:       msg.Notice.Severity.Color(),
	}
	for _, f := range msg.Notice.Fields {
		payload.Fields = append(payload.Fields, FieldPayload{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if msg.Attachment != nil {
		data, err := os.ReadFile(msg.Attachment.Path)
		if err != nil {
			return "", fmt.Errorf("read attachment: %w", err)
		}
		payload.Attachment = &AttachmentBlob{Name: msg.Attachment.Name, ContentType: "image/png", Data: data}
	}

	if !client.SendJSON(NewEvent(EventMessage, payload)) {
		return "", fmt.Errorf("channel %s: message dropped", channelID)
	}
	return payload.MessageID, nil
}

// Delete implements bot.Session.
func (h *Hub) Delete(_ context.Context, channelID, messageID string) error {
	client, err := h.client(channelID)
	if err != nil {
		return err
	}
	if !client.SendJSON(NewEvent(EventDelete, DeletePayload{MessageID: messageID, ChannelID: channelID})) {
		return fmt.Errorf("channel %s: delete dropped", channelID)
	}
	return nil
}

func (h *Hub) handleMessage(client *Client, data []byte) {
	var msg RPCMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("invalid message", "err", err)
		return
	}

	switch msg.Type {
	case "req":
		if !client.limiter.Allow() {
			client.SendJSON(NewErrorResponse(msg.ID, "RATE_LIMITED", "Too many requests"))
			return
		}

		// Handle connect specially (before auth check)
		if msg.Method == "connect" {
			h.handleConnect(client, msg)
			return
		}

		if !client.IsAuthenticated() {
			client.SendJSON(NewErrorResponse(msg.ID, "AUTH_REQUIRED", "Not authenticated"))
			return
		}

		var params map[string]json.RawMessage
		if msg.Params != nil {
			json.Unmarshal(msg.Params, &params)
		}
		if params == nil {
			params = make(map[string]json.RawMessage)
		}

		req := RPCRequest{ID: msg.ID, Method: msg.Method, Params: params}
		if h.RPCRouter != nil {
			h.RPCRouter(client, req)
		}

	default:
		slog.Warn("unknown message type", "type", msg.Type)
	}
}

func (h *Hub) handleConnect(client *Client, msg RPCMessage) {
	if client.IsAuthenticated() {
		client.SendJSON(NewErrorResponse(msg.ID, "ALREADY_CONNECTED", "Already authenticated"))
		return
	}

	userID, displayName, err := VerifyConnect(msg.Params, client.nonce(), h.token)
	if err != nil {
		slog.Warn("console auth failed", "err", err)
		client.SendJSON(NewErrorResponse(msg.ID, "AUTH_FAILED", err.Error()))
		return
	}

	client.SetAuth(userID, displayName)

	client.SendJSON(NewResponse(msg.ID, map[string]interface{}{
		"userId":    userID,
		"channelId": client.channelID,
		"policy": map[string]interface{}{
			"tickIntervalMs": h.TickInterval.Milliseconds(),
		},
	}))

	slog.Info("console client authenticated", "userID", userID, "displayName", displayName)

	go h.tickLoop(client)
}

func (h *Hub) tickLoop(client *Client) {
	if h.TickInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-client.done:
			return
		case <-ticker.C:
			client.SendJSON(NewEvent(EventTick, nil))
		}
	}
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

var _ bot.Session = (*Hub)(nil)
