// Package metrics exposes bot activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cmebot"

// Collector records command handling. A nil *Collector is a no-op.
type Collector struct {
	commandsTotal      *prometheus.CounterVec
	cooldownRejections *prometheus.CounterVec
	captureDuration    *prometheus.HistogramVec
	inFlightCaptures   prometheus.Gauge
}

// NewCollector registers the bot metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Handled chat commands by command and outcome",
			},
			[]string{"transport", "command", "outcome"},
		),
		cooldownRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cooldown_rejections_total",
				Help:      "Messages rejected because the user is on cooldown",
			},
			[]string{"transport"},
		),
		captureDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "capture_duration_seconds",
				Help:      "Chart capture duration in seconds",
				Buckets:   []float64{1, 2, 5, 10, 15, 20, 30, 45, 60},
			},
			[]string{"status"},
		),
		inFlightCaptures: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "captures_in_flight",
				Help:      "Chart captures currently running",
			},
		),
	}
}

func (c *Collector) RecordCommand(transport, command, outcome string) {
	if c == nil {
		return
	}
	c.commandsTotal.WithLabelValues(transport, command, outcome).Inc()
}

func (c *Collector) RecordCooldown(transport string) {
	if c == nil {
		return
	}
	c.cooldownRejections.WithLabelValues(transport).Inc()
}

// CaptureStarted increments the in-flight gauge and returns the func that
// records the finished capture.
func (c *Collector) CaptureStarted() func(status string, d time.Duration) {
	if c == nil {
		return func(string, time.Duration) {}
	}
	c.inFlightCaptures.Inc()
	return func(status string, d time.Duration) {
		c.inFlightCaptures.Dec()
		c.captureDuration.WithLabelValues(status).Observe(d.Seconds())
	}
}
