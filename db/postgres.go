package db

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema_postgres.sql
var postgresSchema string

// PGStore is the Postgres command log, for deployments that already run one.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, fails fast if the server is unreachable and applies
// the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PGStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	slog.Info("database opened", "backend", "postgres")
	return &PGStore{pool: pool}, nil
}

func (p *PGStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PGStore) Close() error {
	p.pool.Close()
	return nil
}

func (p *PGStore) InsertCommandLog(ctx context.Context, e CommandLog) (*CommandLog, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	err := p.pool.QueryRow(ctx, `
		INSERT INTO command_log (transport, user_id, channel_id, command, outcome, detail, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, e.Transport, e.UserID, e.ChannelID, e.Command, e.Outcome, e.Detail, e.Duration, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *PGStore) RecentCommandLogs(ctx context.Context, userID string, limit int) ([]CommandLog, error) {
	query := `
		SELECT id, transport, user_id, channel_id, command, outcome, detail, duration_ms, created_at
		FROM command_log`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, clampLimit(limit))

	rows, err := p.pool.Query(ctx, query, args...)
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
