package db

import (
	"context"
	"time"
)

// Outcomes recorded in the command log.
const (
	OutcomeOK       = "ok"
	OutcomeCooldown = "cooldown"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
	OutcomeDenied   = "denied"
)

// CommandLog is one handled chat command.
type CommandLog struct {
	ID        int64     `json:"id"`
	Transport string    `json:"transport"`
	UserID    string    `json:"userId"`
	ChannelID string    `json:"channelId"`
	Command   string    `json:"command"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	Duration  int64     `json:"durationMs"`
	CreatedAt time.Time `json:"createdAt"`
}

const defaultListLimit = 20

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}

func (db *DB) InsertCommandLog(ctx context.Context, e CommandLog) (*CommandLog, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	res, err := db.ExecContext(ctx, `
		INSERT INTO command_log (transport, user_id, channel_id, command, outcome, detail, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Transport, e.UserID, e.ChannelID, e.Command, e.Outcome, e.Detail, e.Duration, e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.ID, _ = res.LastInsertId()
	return &e, nil
}

// RecentCommandLogs returns up to limit entries, newest first. An empty userID
// lists every user.
func (db *DB) RecentCommandLogs(ctx context.Context, userID string, limit int) ([]CommandLog, error) {
	query := `
		SELECT id, transport, user_id, channel_id, command, outcome, detail, duration_ms, created_at
		FROM command_log`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, clampLimit(limit))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []CommandLog
	for rows.Next() {
		var e CommandLog
		if err := rows.Scan(&e.ID, &e.Transport, &e.UserID, &e.ChannelID, &e.Command, &e.Outcome, &e.Detail, &e.Duration, &e.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}
