package console

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicebartender/cmebot/bot"
	"github.com/nicebartender/cmebot/capture"
	"github.com/nicebartender/cmebot/cooldown"
	"github.com/nicebartender/cmebot/db"
	"github.com/nicebartender/cmebot/rpc"
	"github.com/nicebartender/cmebot/ws"
)

type stubCapturer struct {
	dir string
}

func (s stubCapturer) Capture(ctx context.Context, url string) capture.Result {
	path, err := capture.WriteArtifact(s.dir, []byte("PNG"))
	if err != nil {
		return capture.Result{Status: capture.Failure, Path: path, Err: err}
	}
	return capture.Result{Status: capture.Success, Path: path, SourceURL: url}
}

type server struct {
	url        string
	dispatcher *bot.Dispatcher
	artifacts  string
}

func startServer(t *testing.T) *server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	database, err := db.Open(filepath.Join(t.TempDir(), "cmebot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	artifacts := t.TempDir()
	hub := ws.NewHub("secret")
	dispatcher := bot.NewDispatcher(bot.Config{Transport: "console", ChartURL: "https://example.com/c", CaptureTimeout: 5 * time.Second},
		hub, cooldown.NewMemory(cooldown.DefaultPeriod), stubCapturer{dir: artifacts})
	dispatcher.Recorder = database

	router := rpc.NewRouter(ctx, hub, dispatcher)
	router.History = database
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, w, r)
	}))
	t.Cleanup(srv.Close)

	return &server{url: srv.URL, dispatcher: dispatcher, artifacts: artifacts}
}

func connect(t *testing.T, url, token string) *Client {
	t.Helper()
	c := NewClient(url, token, "tester", "Tester")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Close)
	return c
}

func next(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case m, ok := <-c.Messages():
		require.True(t, ok, "connection closed")
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for bot message")
		return Message{}
	}
}

func TestChartRoundTrip(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv.url, "secret")
	ctx := context.Background()

	require.NoError(t, c.Say(ctx, "!cme"))

	placeholder := next(t, c)
	assert.Equal(t, "Processing", placeholder.Title)

	deleted := next(t, c)
	assert.True(t, deleted.Deleted)
	assert.Equal(t, placeholder.MessageID, deleted.MessageID)

	chart := next(t, c)
	assert.Equal(t, "TradingView Chart", chart.Title)
	require.NotNil(t, chart.Attachment)
	assert.Equal(t, []byte("PNG"), chart.Attachment.Data)
	require.Len(t, chart.Fields, 1)
	assert.Equal(t, "[View Chart](https://example.com/c)", chart.Fields[0].Value)

	require.NoError(t, c.Say(ctx, "!cme"))
	cool := next(t, c)
	assert.Equal(t, "Cooldown", cool.Title)
	assert.Equal(t, "warning", cool.Severity)

	// the cooldown reply is only produced after the chart handler returned
	leftovers, err := filepath.Glob(filepath.Join(srv.artifacts, "*.png"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	// the cooldown row is written after its notice is sent
	var logs []db.CommandLog
	require.Eventually(t, func() bool {
		logs, err = c.History(ctx, "console:tester", 10)
		return err == nil && len(logs) == 2
	}, 5*time.Second, 250*time.Millisecond)
	assert.Equal(t, db.OutcomeCooldown, logs[0].Outcome)
	assert.Equal(t, db.OutcomeOK, logs[1].Outcome)
	assert.Equal(t, "console", logs[1].Transport)
}

func TestStopOverConsole(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv.url, "secret")

	require.NoError(t, c.Say(context.Background(), "!stop"))
	m := next(t, c)
	assert.Equal(t, "Shutdown", m.Title)

	select {
	case <-srv.dispatcher.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestBadToken(t *testing.T) {
	srv := startServer(t)
	c := NewClient(srv.url, "nope", "tester", "")
	defer c.Close()

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_FAILED")
}

func TestEmptyContentRejected(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv.url, "secret")

	err := c.Say(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_PARAMS")
}

func TestWebsocketURL(t *testing.T) {
	tests := map[string]string{
		"localhost:8090":          "ws://localhost:8090/ws",
		"http://localhost:8090/":  "ws://localhost:8090/ws",
		"https://bot.example.com": "wss://bot.example.com/ws",
		"ws://127.0.0.1:1/ws":     "ws://127.0.0.1:1/ws",
	}
	for in, want := range tests {
		assert.Equal(t, want, WebsocketURL(in), in)
	}
}

// floodServer authenticates one client, pushes n chat.message events, then
// answers the next request.
func floodServer(t *testing.T, n int) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req struct {
			ID     string `json:"id"`
			Method string `json:"method"`
		}
		conn.WriteJSON(ws.NewEvent(ws.EventChallenge, map[string]string{"nonce": "n"}))
		if conn.ReadJSON(&req) != nil {
			return
		}
		conn.WriteJSON(ws.NewResponse(req.ID, map[string]string{"userId": "console:tester"}))

		for i := 0; i < n; i++ {
			conn.WriteJSON(ws.NewEvent(ws.EventMessage, ws.MessagePayload{MessageID: fmt.Sprint(i), Title: "Processing"}))
		}

		if conn.ReadJSON(&req) != nil {
			return
		}
		conn.WriteJSON(ws.NewResponse(req.ID, map[string]interface{}{"commands": []db.CommandLog{}}))

		// Hold the connection until the client hangs up.
		conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestUndrainedMessagesDoNotStallResponses(t *testing.T) {
	c := connect(t, floodServer(t, 100), "secret")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logs, err := c.History(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, logs)

	c.Close()
	n := 0
	for range c.Messages() {
		n++
	}
	assert.Equal(t, cap(c.messages), n, "overflow dropped, buffer kept")
}
