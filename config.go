package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nicebartender/cmebot/capture"
	"github.com/nicebartender/cmebot/cooldown"
)

// ErrTokenMissing means the bot token file is absent or empty.
var ErrTokenMissing = errors.New("bot token missing")

type Config struct {
	TokenFile      string        `yaml:"token_file"`
	Cooldown       time.Duration `yaml:"cooldown"`
	ChartURL       string        `yaml:"chart_url"`
	RenderWait     time.Duration `yaml:"render_wait"`
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
	WindowWidth    int           `yaml:"window_width"`
	WindowHeight   int           `yaml:"window_height"`
	ChromePath     string        `yaml:"chrome_path"`
	ArtifactDir    string        `yaml:"artifact_dir"`
	ListenAddr     string        `yaml:"listen_addr"`
	ConsoleToken   string        `yaml:"console_token"`
	DBPath         string        `yaml:"db_path"`
	PostgresDSN    string        `yaml:"postgres_dsn"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisPassword  string        `yaml:"redis_password"`
	StopUsers      []string      `yaml:"stop_users"`
	Debug          bool          `yaml:"debug"`
}

func defaultConfig() Config {
	return Config{
		TokenFile:      "config.txt",
		Cooldown:       cooldown.DefaultPeriod,
		ChartURL:       capture.DefaultChartURL,
		RenderWait:     10 * time.Second,
		CaptureTimeout: 45 * time.Second,
		WindowWidth:    1920,
		WindowHeight:   1080,
		ArtifactDir:    os.TempDir(),
		ListenAddr:     defaultAddr(),
		DBPath:         "cmebot.db",
	}
}

// LoadConfig reads the optional YAML file at path over the defaults, then
// applies CMEBOT_* environment overrides. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return hydrateDefaults(cfg), nil
}

func applyEnv(cfg *Config) {
	cfg.TokenFile = envOrDefault("CMEBOT_TOKEN_FILE", cfg.TokenFile)
	cfg.Cooldown = envDuration("CMEBOT_COOLDOWN", cfg.Cooldown)
	cfg.ChartURL = envOrDefault("CMEBOT_CHART_URL", cfg.ChartURL)
	cfg.RenderWait = envDuration("CMEBOT_RENDER_WAIT", cfg.RenderWait)
	cfg.CaptureTimeout = envDuration("CMEBOT_CAPTURE_TIMEOUT", cfg.CaptureTimeout)
	cfg.ChromePath = envOrDefault("CMEBOT_CHROME_PATH", cfg.ChromePath)
	cfg.ArtifactDir = envOrDefault("CMEBOT_ARTIFACT_DIR", cfg.ArtifactDir)
	cfg.ListenAddr = envOrDefault("CMEBOT_ADDR", cfg.ListenAddr)
	cfg.ConsoleToken = envOrDefault("CMEBOT_CONSOLE_TOKEN", cfg.ConsoleToken)
	cfg.DBPath = envOrDefault("CMEBOT_DB", cfg.DBPath)
	cfg.PostgresDSN = envOrDefault("CMEBOT_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.RedisAddr = envOrDefault("CMEBOT_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = envOrDefault("CMEBOT_REDIS_PASSWORD", cfg.RedisPassword)
	if v := os.Getenv("CMEBOT_STOP_USERS"); v != "" {
		cfg.StopUsers = splitList(v)
	}
	if v := os.Getenv("CMEBOT_DEBUG"); v != "" {
		cfg.Debug, _ = strconv.ParseBool(v)
	}
}

func hydrateDefaults(cfg Config) Config {
	def := defaultConfig()
	if cfg.TokenFile == "" {
		cfg.TokenFile = def.TokenFile
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.ChartURL == "" {
		cfg.ChartURL = def.ChartURL
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = def.CaptureTimeout
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = def.WindowWidth, def.WindowHeight
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = def.ArtifactDir
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	return cfg
}

// LoadToken reads the bot token from a plaintext file.
func LoadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s not found", ErrTokenMissing, path)
		}
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrTokenMissing, path)
	}
	return token, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func splitList(csv string) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func defaultAddr() string {
	// Railway, Render, etc. set PORT
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":8090"
}
