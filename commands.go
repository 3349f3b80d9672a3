package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nicebartender/cmebot/capture"
	"github.com/nicebartender/cmebot/console"
)

type flags struct {
	configPath   string
	debug        bool
	tokenFile    string
	dbPath       string
	postgresDSN  string
	addr         string
	cooldown     time.Duration
	consoleToken string
	redisAddr    string
	chromePath   string
	chartURL     string
}

func NewRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "cmebot",
		Short:         "Discord bot that posts CME bitcoin futures chart screenshots",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			return runBot(cmd.Context(), cfg)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "cmebot.yaml", "YAML config file (optional)")
	pf.BoolVar(&f.debug, "debug", false, "debug logging")
	pf.StringVar(&f.tokenFile, "token-file", "", "file holding the Discord bot token")
	pf.StringVar(&f.dbPath, "db", "", "sqlite command log path")
	pf.StringVar(&f.postgresDSN, "postgres-dsn", "", "use Postgres for the command log")
	pf.StringVar(&f.addr, "addr", "", "ops and console listen address")
	pf.DurationVar(&f.cooldown, "cooldown", 0, "per-user cooldown")
	pf.StringVar(&f.consoleToken, "console-token", "", "enable the websocket console with this token")
	pf.StringVar(&f.redisAddr, "redis-addr", "", "share cooldowns through Redis")
	pf.StringVar(&f.chromePath, "chrome-path", "", "Chrome executable")
	pf.StringVar(&f.chartURL, "chart-url", "", "chart page to capture")

	root.AddCommand(
		newRunCmd(f),
		newCaptureCmd(f),
		newHistoryCmd(f),
		newConsoleCmd(f),
	)
	return root
}

// load layers explicitly set flags over LoadConfig.
func (f *flags) load(cmd *cobra.Command) (Config, error) {
	cfg, err := LoadConfig(f.configPath)
	if err != nil {
		return Config{}, err
	}

	set := cmd.Flags().Changed
	if set("debug") {
		cfg.Debug = f.debug
	}
	if set("token-file") {
		cfg.TokenFile = f.tokenFile
	}
	if set("db") {
		cfg.DBPath = f.dbPath
	}
	if set("postgres-dsn") {
		cfg.PostgresDSN = f.postgresDSN
	}
	if set("addr") {
		cfg.ListenAddr = f.addr
	}
	if set("cooldown") {
		cfg.Cooldown = f.cooldown
	}
	if set("console-token") {
		cfg.ConsoleToken = f.consoleToken
	}
	if set("redis-addr") {
		cfg.RedisAddr = f.redisAddr
	}
	if set("chrome-path") {
		cfg.ChromePath = f.chromePath
	}
	if set("chart-url") {
		cfg.ChartURL = f.chartURL
	}

	setupLogging(cfg.Debug)
	return hydrateDefaults(cfg), nil
}

func newRunCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and serve chart requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			return runBot(cmd.Context(), cfg)
		},
	}
}

func newCaptureCmd(f *flags) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture the chart once and write it to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}

			res := capture.Run(cmd.Context(), newCapturer(cfg), cfg.ChartURL, cfg.CaptureTimeout)
			if !res.OK() {
				return fmt.Errorf("capture %s: %s", res.Status, res.Reason())
			}
			defer capture.Remove(res.Path)

			data, err := os.ReadFile(res.Path)
			if err != nil {
				return fmt.Errorf("read artifact: %w", err)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes, %s)\n", out, len(data), res.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "chart.png", "output file")
	return cmd
}

func newHistoryCmd(f *flags) *cobra.Command {
	var (
		user  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent handled commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			logs, err := store.RecentCommandLogs(cmd.Context(), user, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTRANSPORT\tUSER\tCOMMAND\tOUTCOME\tMS\tDETAIL")
			for _, l := range logs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					l.CreatedAt.Local().Format(time.DateTime), l.Transport, l.UserID, l.Command, l.Outcome, l.Duration, l.Detail)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "only this user id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "rows to print")
	return cmd
}

func newConsoleCmd(f *flags) *cobra.Command {
	var (
		server string
		name   string
	)

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Talk to a running bot over the websocket console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			if cfg.ConsoleToken == "" {
				return fmt.Errorf("console token not configured")
			}
			if server == "" {
				server = "localhost" + cfg.ListenAddr
			}
			return runConsole(cmd, server, cfg.ConsoleToken, name)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "bot address (default localhost<addr>)")
	cmd.Flags().StringVar(&name, "name", os.Getenv("USER"), "display name")
	return cmd
}

func runConsole(cmd *cobra.Command, server, token, name string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	client := console.NewClient(server, token, "cli-"+uuid.NewString()[:8], name)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	go func() {
		for m := range client.Messages() {
			if m.Deleted {
				continue
			}
			fmt.Fprintf(out, "[%s] %s\n", m.Severity, m.Title)
			if m.Description != "" {
				fmt.Fprintf(out, "  %s\n", m.Description)
			}
			for _, field := range m.Fields {
				fmt.Fprintf(out, "  %s: %s\n", field.Name, field.Value)
			}
			if m.Attachment != nil {
				fmt.Fprintf(out, "  attachment %s (%d bytes)\n", m.Attachment.Name, len(m.Attachment.Data))
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := client.Say(sendCtx, line)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
