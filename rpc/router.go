// Package rpc serves console requests on top of the ws hub.
package rpc

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nicebartender/cmebot/bot"
	"github.com/nicebartender/cmebot/db"
	"github.com/nicebartender/cmebot/ws"
)

// History lists the command log.
type History interface {
	RecentCommandLogs(ctx context.Context, userID string, limit int) ([]db.CommandLog, error)
}

// Handler is the dispatcher behind console chat messages.
type Handler interface {
	Handle(ctx context.Context, req bot.Request)
}

// Router serves the RPC methods of one hub.
type Router struct {
	Dispatcher Handler
	History    History // optional

	ctx context.Context
}

func NewRouter(ctx context.Context, hub *ws.Hub, dispatcher Handler) *Router {
	r := &Router{Dispatcher: dispatcher, ctx: ctx}
	hub.RPCRouter = r.Handle
	return r
}

func (r *Router) Handle(client *ws.Client, req ws.RPCRequest) {
	slog.Debug("RPC", "method", req.Method, "userID", client.UserID())

	switch req.Method {
	case "chat.send":
		r.handleChatSend(client, req)
	case "history.list":
		r.handleHistoryList(client, req)
	default:
		client.SendJSON(ws.NewErrorResponse(req.ID, "UNKNOWN_METHOD", "Unknown method: "+req.Method))
	}
}

func jsonString(raw json.RawMessage) string {
	var s string
	if raw != nil {
		json.Unmarshal(raw, &s)
	}
	return s
}

func jsonInt(raw json.RawMessage) int {
	var i int
	if raw != nil {
		json.Unmarshal(raw, &i)
	}
	return i
}
