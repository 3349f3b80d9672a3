// Package capture renders a chart page and stores the screenshot as a local
// artifact file.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// DefaultChartURL is the TradingView CME Bitcoin futures chart.
const DefaultChartURL = "https://www.tradingview.com/chart/vSem31UH/?symbol=CME%3ABTC1!"

// ErrTimedOut is the reason attached to a TimedOut result.
var ErrTimedOut = errors.New("capture timed out")

type Status int

const (
	Success Status = iota
	Failure
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case TimedOut:
		return "timeout"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the outcome of one capture. Path may be set on any status when a
// file was (partly) written; the caller owns it and must remove it.
type Result struct {
	Status    Status
	Path      string
	SourceURL string
	Err       error
	Duration  time.Duration
}

func (r Result) OK() bool {
	return r.Status == Success && r.Path != ""
}

// Reason is a log-friendly description of a non-success result.
func (r Result) Reason() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if r.Status != Success {
		return r.Status.String()
	}
	return ""
}

// Capturer renders url and writes the image to a local file.
type Capturer interface {
	Capture(ctx context.Context, url string) Result
}

// Run executes c as a bounded task. It returns TimedOut once timeout elapses or
// ctx is cancelled, even if the capturer does not honour its context; a file
// produced after that point is removed. Panics are converted to Failure.
func Run(ctx context.Context, c Capturer, url string, timeout time.Duration) Result {
	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Result{Status: Failure, SourceURL: url, Err: fmt.Errorf("capture panicked: %v", p)}
			}
		}()
		done <- c.Capture(ctx, url)
	}()

	select {
	case res := <-done:
		if res.SourceURL == "" {
			res.SourceURL = url
		}
		if res.Status == Success && res.Path == "" {
			res.Status = Failure
			res.Err = errors.New("capture produced no artifact")
		}
		res.Duration = time.Since(start)
		return res
	case <-ctx.Done():
		go discardLate(done)
		err := ErrTimedOut
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrTimedOut, ctx.Err())
		}
		return Result{Status: TimedOut, SourceURL: url, Err: err, Duration: time.Since(start)}
	}
}

func discardLate(done <-chan Result) {
	res := <-done
	if res.Path != "" {
		slog.Warn("removing artifact from abandoned capture", "path", res.Path)
		Remove(res.Path)
	}
}

// Remove deletes an artifact file. Missing files are not an error.
func Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("remove artifact failed", "path", path, "err", err)
	}
}
