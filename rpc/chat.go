package rpc

import (
	"log/slog"
	"time"

	"github.com/nicebartender/cmebot/bot"
	"github.com/nicebartender/cmebot/ws"
)

// handleChatSend queues the message on the client's worker, off the read
// pump, then acks. Replies arrive as chat.message events on the same
// connection.
func (r *Router) handleChatSend(client *ws.Client, req ws.RPCRequest) {
	content := jsonString(req.Params["content"])
	if content == "" {
		client.SendJSON(ws.NewErrorResponse(req.ID, "INVALID_PARAMS", "content is required"))
		return
	}

	received := time.Now()
	acked := make(chan struct{})
	queued := client.Enqueue(func() {
		<-acked
		r.Dispatcher.Handle(r.ctx, bot.Request{
			UserID:     client.UserID(),
			ChannelID:  client.ChannelID(),
			Text:       content,
			ReceivedAt: received,
		})
	})
	if !queued {
		client.SendJSON(ws.NewErrorResponse(req.ID, "BUSY", "Too many pending messages"))
		return
	}

	slog.Debug("console message queued", "userID", client.UserID(), "displayName", client.DisplayName())
	client.SendJSON(ws.NewResponse(req.ID, map[string]interface{}{
		"accepted":  true,
		"channelId": client.ChannelID(),
	}))
	close(acked)
}
