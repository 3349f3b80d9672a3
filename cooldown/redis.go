package cooldown

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// admitScript compares and stores the last accepted time atomically.
// KEYS[1] user key; ARGV[1] now (ms); ARGV[2] period (ms).
var admitScript = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
local now = tonumber(ARGV[1])
local period = tonumber(ARGV[2])
if last and (now - tonumber(last)) < period then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', period)
return 1
`)

// Redis is a Tracker shared by every bot instance pointed at the same server.
// Keys expire one period after the last admit, at which point they no longer
// influence a decision.
type Redis struct {
	client *redis.Client
	period time.Duration
	prefix string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Period   time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	period := cfg.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "cmebot:cooldown:"
	}

	slog.Info("cooldown store connected", "backend", "redis", "addr", cfg.Addr)
	return &Redis{client: client, period: period, prefix: prefix}, nil
}

// Admit implements Tracker. A Redis failure admits the request.
func (r *Redis) Admit(ctx context.Context, userID string, now time.Time) bool {
	res, err := admitScript.Run(ctx, r.client,
		[]string{r.prefix + userID},
		now.UnixMilli(), r.period.Milliseconds(),
	).Int()
	if err != nil {
		slog.Error("cooldown admit failed, admitting", "userID", userID, "err", err)
		return true
	}
	return res == 1
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
