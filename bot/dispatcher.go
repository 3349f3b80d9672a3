package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/nicebartender/cmebot/capture"
	"github.com/nicebartender/cmebot/command"
	"github.com/nicebartender/cmebot/cooldown"
	"github.com/nicebartender/cmebot/db"
	"github.com/nicebartender/cmebot/metrics"
)

// Recorder appends handled commands to the command log.
type Recorder interface {
	InsertCommandLog(ctx context.Context, e db.CommandLog) (*db.CommandLog, error)
}

type Config struct {
	// Transport names the chat session in logs, metrics and the command log.
	Transport      string
	ChartURL       string
	CaptureTimeout time.Duration
	// StopUsers restricts !stop when non-empty.
	StopUsers []string
}

// Dispatcher handles inbound requests for one chat session. Handle is safe for
// concurrent use; the cooldown tracker serializes admission per user.
type Dispatcher struct {
	cfg      Config
	session  Session
	tracker  cooldown.Tracker
	capturer capture.Capturer

	Recorder Recorder
	Metrics  *metrics.Collector

	mu     sync.RWMutex
	selfID string

	stopOnce sync.Once
	done     chan struct{}
}

func NewDispatcher(cfg Config, session Session, tracker cooldown.Tracker, capturer capture.Capturer) *Dispatcher {
	if cfg.Transport == "" {
		cfg.Transport = "chat"
	}
	if cfg.ChartURL == "" {
		cfg.ChartURL = capture.DefaultChartURL
	}
	return &Dispatcher{
		cfg:      cfg,
		session:  session,
		tracker:  tracker,
		capturer: capturer,
		done:     make(chan struct{}),
	}
}

// SetSelfID records the bot's own user ID once the transport knows it.
func (d *Dispatcher) SetSelfID(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selfID = id
}

func (d *Dispatcher) isSelf(req Request) bool {
	if req.FromSelf {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.selfID != "" && req.UserID == d.selfID
}

// Done is closed once a stop command has been handled.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) Stopped() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Stop ends event handling. Later requests are dropped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}

// Handle runs one request to completion. It never panics and never returns an
// error: failures are logged and, where the user is owed an answer, reported
// with a generic notice.
func (d *Dispatcher) Handle(ctx context.Context, req Request) {
	if d.Stopped() || d.isSelf(req) {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("handler panicked", "transport", d.cfg.Transport, "userID", req.UserID,
				"panic", p, "stack", string(debug.Stack()))
		}
	}()

	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now()
	}
	cmd := command.Parse(req.Text)

	// Every message from a user passes the gate; only commands get an answer.
	if !d.tracker.Admit(ctx, req.UserID, req.ReceivedAt) {
		if !cmd.Known() {
			return
		}
		slog.Info("command on cooldown", "transport", d.cfg.Transport, "userID", req.UserID, "command", cmd.Kind)
		d.Metrics.RecordCooldown(d.cfg.Transport)
		d.send(ctx, req.ChannelID, Message{Notice: cooldownNotice()})
		d.record(ctx, req, cmd, db.OutcomeCooldown, "", 0)
		return
	}

	switch cmd.Kind {
	case command.Chart:
		d.handleChart(ctx, req, cmd)
	case command.Help:
		d.send(ctx, req.ChannelID, Message{Notice: helpNotice()})
		d.record(ctx, req, cmd, db.OutcomeOK, "", 0)
	case command.Stop:
		d.handleStop(ctx, req, cmd)
	}
}

func (d *Dispatcher) handleChart(ctx context.Context, req Request, cmd command.Command) {
	slog.Info("chart requested", "transport", d.cfg.Transport, "userID", req.UserID, "channelID", req.ChannelID)

	var res capture.Result
	defer func() { capture.Remove(res.Path) }()

	placeholderID := d.send(ctx, req.ChannelID, Message{Notice: processingNotice()})

	finish := d.Metrics.CaptureStarted()
	res = capture.Run(ctx, d.capturer, d.cfg.ChartURL, d.cfg.CaptureTimeout)
	finish(res.Status.String(), res.Duration)

	if placeholderID != "" {
		if err := d.session.Delete(ctx, req.ChannelID, placeholderID); err != nil {
			slog.Warn("delete placeholder failed", "channelID", req.ChannelID, "messageID", placeholderID, "err", err)
		}
	}

	if !res.OK() {
		slog.Error("chart capture failed", "transport", d.cfg.Transport, "status", res.Status,
			"url", res.SourceURL, "duration", res.Duration, "err", res.Err)
		d.send(ctx, req.ChannelID, Message{Notice: captureErrorNotice()})
		outcome := db.OutcomeFailed
		if res.Status == capture.TimedOut {
			outcome = db.OutcomeTimeout
		}
		d.record(ctx, req, cmd, outcome, res.Reason(), res.Duration)
		return
	}

	_, err := d.session.Send(ctx, req.ChannelID, Message{
		Notice:     chartNotice(res.SourceURL),
		Attachment: &Attachment{Name: chartAttachmentName, Path: res.Path},
	})
	if err != nil {
		slog.Error("send chart failed", "channelID", req.ChannelID, "err", err)
		d.send(ctx, req.ChannelID, Message{Notice: captureErrorNotice()})
		d.record(ctx, req, cmd, db.OutcomeFailed, fmt.Sprintf("send chart: %v", err), res.Duration)
		return
	}

	slog.Info("chart delivered", "transport", d.cfg.Transport, "userID", req.UserID, "duration", res.Duration)
	d.record(ctx, req, cmd, db.OutcomeOK, "", res.Duration)
}

func (d *Dispatcher) handleStop(ctx context.Context, req Request, cmd command.Command) {
	if len(d.cfg.StopUsers) > 0 && !slices.Contains(d.cfg.StopUsers, req.UserID) {
		slog.Warn("stop denied", "transport", d.cfg.Transport, "userID", req.UserID)
		d.send(ctx, req.ChannelID, Message{Notice: stopDeniedNotice()})
		d.record(ctx, req, cmd, db.OutcomeDenied, "", 0)
		return
	}

	slog.Info("stop requested", "transport", d.cfg.Transport, "userID", req.UserID)
	d.send(ctx, req.ChannelID, Message{Notice: shutdownNotice()})
	d.record(ctx, req, cmd, db.OutcomeOK, "", 0)
	d.Stop()
}

// send posts msg and returns its ID, or "" when the session failed.
func (d *Dispatcher) send(ctx context.Context, channelID string, msg Message) string {
	id, err := d.session.Send(ctx, channelID, msg)
	if err != nil {
		slog.Error("send failed", "transport", d.cfg.Transport, "channelID", channelID, "title", msg.Notice.Title, "err", err)
		return ""
	}
	return id
}

func (d *Dispatcher) record(ctx context.Context, req Request, cmd command.Command, outcome, detail string, dur time.Duration) {
	d.Metrics.RecordCommand(d.cfg.Transport, cmd.Kind.String(), outcome)
	if d.Recorder == nil {
		return
	}
	_, err := d.Recorder.InsertCommandLog(ctx, db.CommandLog{
		Transport: d.cfg.Transport,
		UserID:    req.UserID,
		ChannelID: req.ChannelID,
		Command:   cmd.Kind.String(),
		Outcome:   outcome,
		Detail:    detail,
		Duration:  dur.Milliseconds(),
		CreatedAt: req.ReceivedAt,
	})
	if err != nil {
		slog.Error("record command failed", "command", cmd.Kind, "err", err)
	}
}
