package rpc

import (
	"github.com/nicebartender/cmebot/db"
	"github.com/nicebartender/cmebot/ws"
)

func (r *Router) handleHistoryList(client *ws.Client, req ws.RPCRequest) {
	if r.History == nil {
		client.SendJSON(ws.NewErrorResponse(req.ID, "UNAVAILABLE", "Command log is not configured"))
		return
	}

	limit := jsonInt(req.Params["limit"])
	if limit <= 0 {
		limit = 20
	}
	userID := jsonString(req.Params["userId"])

	logs, err := r.History.RecentCommandLogs(r.ctx, userID, limit)
	if err != nil {
		client.SendJSON(ws.NewErrorResponse(req.ID, "DB_ERROR", err.Error()))
		return
	}
	if logs == nil {
		logs = []db.CommandLog{}
	}

	client.SendJSON(ws.NewResponse(req.ID, map[string]interface{}{
		"commands": logs,
	}))
}
