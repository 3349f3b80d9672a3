package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicebartender/cmebot/bot"
)

type testConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func (c *testConn) write(v interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

func (c *testConn) read() map[string]json.RawMessage {
	c.t.Helper()
	for {
		c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var m map[string]json.RawMessage
		require.NoError(c.t, c.conn.ReadJSON(&m))
		if string(m["event"]) == `"tick"` {
			continue
		}
		return m
	}
}

func startHub(t *testing.T, token string, router func(*Client, RPCRequest)) (*Hub, string) {
	t.Helper()
	hub := NewHub(token)
	hub.RPCRouter = router
	return hub, serveHub(t, hub)
}

// serveHub runs a configured hub behind an httptest server.
func serveHub(t *testing.T, hub *Hub) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *testConn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testConn{t: t, conn: conn}
}

// login performs the handshake and returns the channel ID.
func login(t *testing.T, c *testConn, token string) (map[string]json.RawMessage, string) {
	t.Helper()
	challenge := c.read()
	require.Equal(t, `"connect.challenge"`, string(challenge["event"]))
	var payload struct {
		Nonce string `json:"nonce"`
	}
	require.NoError(t, json.Unmarshal(challenge["payload"], &payload))

	c.write(map[string]interface{}{
		"type": "req", "id": "1", "method": "connect",
		"params": ConnectParams{
			Client: &ConnectClient{ID: "tester"},
			Auth:   &ConnectAuth{Token: token},
			Nonce:  payload.Nonce,
		},
	})
	resp := c.read()

	var body struct {
		ChannelID string `json:"channelId"`
	}
	json.Unmarshal(resp["payload"], &body)
	return resp, body.ChannelID
}

func TestHandshakeAndRouting(t *testing.T) {
	routed := make(chan RPCRequest, 1)
	_, url := startHub(t, "secret", func(client *Client, req RPCRequest) {
		assert.Equal(t, "console:tester", client.UserID())
		routed <- req
		client.SendJSON(NewResponse(req.ID, map[string]string{"echo": req.Method}))
	})

	c := dial(t, url)
	resp, channelID := login(t, c, "secret")
	assert.Equal(t, "true", string(resp["ok"]))
	assert.True(t, strings.HasPrefix(channelID, "ws-"))

	c.write(map[string]interface{}{"type": "req", "id": "2", "method": "chat.send", "params": map[string]string{"content": "!help"}})
	got := c.read()
	assert.Equal(t, `"2"`, string(got["id"]))

	req := <-routed
	assert.Equal(t, "chat.send", req.Method)
	assert.Equal(t, `"!help"`, string(req.Params["content"]))
}

func TestAuthRequired(t *testing.T) {
	_, url := startHub(t, "secret", nil)
	c := dial(t, url)
	c.read() // challenge

	c.write(map[string]interface{}{"type": "req", "id": "9", "method": "chat.send"})
	resp := c.read()
	assert.Equal(t, "false", string(resp["ok"]))
	assert.Contains(t, string(resp["error"]), "AUTH_REQUIRED")
}

func TestBadTokenRejected(t *testing.T) {
	_, url := startHub(t, "secret", nil)
	c := dial(t, url)

	resp, _ := login(t, c, "wrong")
	assert.Equal(t, "false", string(resp["ok"]))
	assert.Contains(t, string(resp["error"]), "AUTH_FAILED")
}

func TestRateLimited(t *testing.T) {
	_, url := startHub(t, "secret", func(client *Client, req RPCRequest) {
		client.SendJSON(NewResponse(req.ID, nil))
	})
	c := dial(t, url)
	login(t, c, "secret")

	limited := false
	for i := 0; i < requestBurst+3; i++ {
		c.write(map[string]interface{}{"type": "req", "id": "x", "method": "noop"})
		resp := c.read()
		if strings.Contains(string(resp["error"]), "RATE_LIMITED") {
			limited = true
			break
		}
	}
	assert.True(t, limited)
}

func TestHubSessionSendAndDelete(t *testing.T) {
	hub, url := startHub(t, "secret", nil)
	c := dial(t, url)
	_, channelID := login(t, c, "secret")
	require.NotEmpty(t, channelID)

	img := filepath.Join(t.TempDir(), "chart.png")
	require.NoError(t, os.WriteFile(img, []byte("PNGDATA"), 0o600))

	ctx := context.Background()
	id, err := hub.Send(ctx, channelID, bot.Message{
		Notice: bot.Notice{
			Title:    "TradingView Chart",
			Severity: bot.Success,
			Fields:   []bot.Field{{Name: "Chart Link", Value: "[View Chart](u)"}},
		},
		Attachment: &bot.Attachment{Name: "chart.png", Path: img},
	})
	require.NoError(t, err)

	evt := c.read()
	assert.Equal(t, `"chat.message"`, string(evt["event"]))
	var payload MessagePayload
	require.NoError(t, json.Unmarshal(evt["payload"], &payload))
	assert.Equal(t, id, payload.MessageID)
	assert.Equal(t, "success", payload.Severity)
	assert.Equal(t, bot.Success.Color(), payload.Color)
	require.NotNil(t, payload.Attachment)
	assert.Equal(t, []byte("PNGDATA"), payload.Attachment.Data)

	require.NoError(t, hub.Delete(ctx, channelID, id))
	evt = c.read()
	assert.Equal(t, `"chat.delete"`, string(evt["event"]))
}

func TestHubSendUnknownChannel(t *testing.T) {
	hub := NewHub("secret")
	_, err := hub.Send(context.Background(), "ws-missing", bot.Message{})
	assert.Error(t, err)
	assert.Error(t, hub.Delete(context.Background(), "ws-missing", "m"))
}

func TestHubStopsOnContextCancel(t *testing.T) {
	hub := NewHub("secret")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	cancel()
	<-done
	assert.False(t, hub.Register(&Client{}))
	assert.Zero(t, hub.Clients())
}

func TestRepeatedConnectRejected(t *testing.T) {
	_, url := startHub(t, "secret", nil)
	c := dial(t, url)
	resp, _ := login(t, c, "secret")
	require.Equal(t, "true", string(resp["ok"]))

	c.write(map[string]interface{}{
		"type": "req", "id": "2", "method": "connect",
		"params": ConnectParams{Client: &ConnectClient{ID: "tester"}, Auth: &ConnectAuth{Token: "secret"}},
	})
	resp = c.read()
	assert.Equal(t, "false", string(resp["ok"]))
	assert.Contains(t, string(resp["error"]), "ALREADY_CONNECTED")
}

func TestSlowJobKeepsConnectionAlive(t *testing.T) {
	hub := NewHub("secret")
	hub.PongWait = time.Second
	hub.RPCRouter = func(client *Client, req RPCRequest) {
		switch req.Method {
		case "slow":
			ok := client.Enqueue(func() {
				time.Sleep(5 * hub.PongWait / 2)
				client.SendJSON(NewEvent("slow.done", nil))
			})
			assert.True(t, ok)
			client.SendJSON(NewResponse(req.ID, nil))
		default:
			client.SendJSON(NewResponse(req.ID, map[string]string{"echo": req.Method}))
		}
	}
	url := serveHub(t, hub)

	c := dial(t, url)
	login(t, c, "secret")

	c.write(map[string]interface{}{"type": "req", "id": "2", "method": "slow"})
	assert.Equal(t, `"2"`, string(c.read()["id"]))
	// Reading answers the hub's pings while the job runs.
	assert.Equal(t, `"slow.done"`, string(c.read()["event"]))

	c.write(map[string]interface{}{"type": "req", "id": "3", "method": "after"})
	resp := c.read()
	assert.Equal(t, `"3"`, string(resp["id"]))
	assert.Equal(t, "true", string(resp["ok"]))
	assert.Equal(t, 1, hub.Clients())
}

func TestEnqueueAfterDisconnect(t *testing.T) {
	c := &Client{jobs: make(chan func(), 1), done: make(chan struct{})}
	assert.True(t, c.Enqueue(func() {}))
	assert.False(t, c.Enqueue(func() {}), "queue full")

	close(c.done)
	<-c.jobs
	assert.False(t, c.Enqueue(func() {}))
}
