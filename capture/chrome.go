package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
)

type ChromeConfig struct {
	ExecPath    string // empty: let chromedp locate Chrome
	ArtifactDir string
	Width       int
	Height      int
	RenderWait  time.Duration
}

func DefaultChromeConfig() ChromeConfig {
	return ChromeConfig{
		ArtifactDir: os.TempDir(),
		Width:       1920,
		Height:      1080,
		RenderWait:  10 * time.Second,
	}
}

// Chrome captures pages with a fresh headless Chrome per call.
type Chrome struct {
	cfg ChromeConfig
}

func NewChrome(cfg ChromeConfig) *Chrome {
	def := DefaultChromeConfig()
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = def.ArtifactDir
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.RenderWait < 0 {
		cfg.RenderWait = 0
	}
	return &Chrome{cfg: cfg}
}

func (c *Chrome) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("log-level", "3"),
		chromedp.WindowSize(c.cfg.Width, c.cfg.Height),
	)
	if c.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.ExecPath))
	}
	return opts
}

// Capture implements Capturer.
func (c *Chrome) Capture(ctx context.Context, url string) Result {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, c.allocatorOptions()...)
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	var buf []byte
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(c.cfg.RenderWait),
		chromedp.CaptureScreenshot(&buf),
	)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{Status: TimedOut, SourceURL: url, Err: fmt.Errorf("%w: %v", ErrTimedOut, err)}
		}
		return Result{Status: Failure, SourceURL: url, Err: fmt.Errorf("render %s: %w", url, err)}
	}

	path, err := WriteArtifact(c.cfg.ArtifactDir, buf)
	if err != nil {
		return Result{Status: Failure, Path: path, SourceURL: url, Err: err}
	}

	slog.Debug("chart captured", "path", path, "bytes", len(buf))
	return Result{Status: Success, Path: path, SourceURL: url}
}

// WriteArtifact stores png under dir with a unique name and returns its path.
// On a write error the path is still returned so the caller can clean up.
func WriteArtifact(dir string, png []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifact dir: %w", err)
	}
	path := filepath.Join(dir, "chart-"+uuid.NewString()+".png")
	if err := os.WriteFile(path, png, 0o600); err != nil {
		return path, fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}
