package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nicebartender/cmebot/bot"
	"github.com/nicebartender/cmebot/capture"
	"github.com/nicebartender/cmebot/cooldown"
	"github.com/nicebartender/cmebot/db"
	"github.com/nicebartender/cmebot/discord"
	"github.com/nicebartender/cmebot/httpserver"
	"github.com/nicebartender/cmebot/metrics"
	"github.com/nicebartender/cmebot/rpc"
	"github.com/nicebartender/cmebot/ws"
)

// store is the command log backend, sqlite or Postgres.
type store interface {
	bot.Recorder
	rpc.History
	httpserver.Pinger
	Close() error
}

func openStore(ctx context.Context, cfg Config) (store, error) {
	if cfg.PostgresDSN != "" {
		pg, err := db.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	sqlite, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return sqlite, nil
}

// openTracker returns the cooldown tracker and, for Redis, a pinger for /ready.
func openTracker(cfg Config) (cooldown.Tracker, *cooldown.Redis, error) {
	if cfg.RedisAddr == "" {
		return cooldown.NewMemory(cfg.Cooldown), nil, nil
	}
	r, err := cooldown.NewRedis(cooldown.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Period:   cfg.Cooldown,
	})
	if err != nil {
		return nil, nil, err
	}
	return r, r, nil
}

func newCapturer(cfg Config) *capture.Chrome {
	return capture.NewChrome(capture.ChromeConfig{
		ExecPath:    cfg.ChromePath,
		ArtifactDir: cfg.ArtifactDir,
		Width:       cfg.WindowWidth,
		Height:      cfg.WindowHeight,
		RenderWait:  cfg.RenderWait,
	})
}

func runBot(ctx context.Context, cfg Config) error {
	token, err := LoadToken(cfg.TokenFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open command log: %w", err)
	}
	defer st.Close()

	tracker, redisTracker, err := openTracker(cfg)
	if err != nil {
		return fmt.Errorf("cooldown tracker: %w", err)
	}
	checks := map[string]httpserver.Pinger{"db": st}
	if redisTracker != nil {
		defer redisTracker.Close()
		checks["redis"] = redisTracker
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)
	capturer := newCapturer(cfg)

	newDispatcher := func(transport string, session bot.Session) *bot.Dispatcher {
		d := bot.NewDispatcher(bot.Config{
			Transport:      transport,
			ChartURL:       cfg.ChartURL,
			CaptureTimeout: cfg.CaptureTimeout,
			StopUsers:      cfg.StopUsers,
		}, session, tracker, capturer)
		d.Recorder = st
		d.Metrics = collector
		return d
	}

	dg, err := discord.New(token)
	if err != nil {
		return err
	}
	chat := newDispatcher("discord", dg)
	if err := dg.Open(ctx, chat); err != nil {
		return err
	}
	defer dg.Close()

	stopped := make(chan string, 2)
	watch := func(name string, d *bot.Dispatcher) {
		go func() {
			select {
			case <-d.Done():
				stopped <- name
			case <-ctx.Done():
			}
		}()
	}
	watch("discord", chat)

	var hub *ws.Hub
	if cfg.ConsoleToken != "" {
		hub = ws.NewHub(cfg.ConsoleToken)
		local := newDispatcher("console", hub)
		router := rpc.NewRouter(ctx, hub, local)
		router.History = st
		go hub.Run(ctx)
		watch("console", local)
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: httpserver.NewRouter(httpserver.Deps{
			Gatherer: reg,
			Hub:      hub,
			Checks:   checks,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("cmebot listening", "addr", cfg.ListenAddr, "console", hub != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down", "reason", "signal")
	case name := <-stopped:
		slog.Info("shutting down", "reason", "stop command", "transport", name)
	case err = <-serveErr:
		slog.Error("http server failed", "err", err)
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	return err
}
