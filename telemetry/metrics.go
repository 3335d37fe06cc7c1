// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	Polls                   *prometheus.CounterVec // platform, result
	ProviderErrors          *prometheus.CounterVec // platform, kind
	NotificationsSent       *prometheus.CounterVec // platform
	NotificationsFailed     *prometheus.CounterVec // platform
	NotificationsSuppressed *prometheus.CounterVec // platform
	Commands                *prometheus.CounterVec // command, result

	// Histograms (seconds)
	PollDuration     *prometheus.HistogramVec // platform
	ProviderDuration *prometheus.HistogramVec // platform

	// Gauges
	LiveEntities      *prometheus.GaugeVec // platform
	BackoffMultiplier *prometheus.GaugeVec // platform
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		Polls = promauto.NewCounterVec(prometheus.CounterOpts{Name: "nullbot_stream_polls_total", Help: "Stream monitor poll cycles by outcome"}, []string{"platform", "result"})
		ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "nullbot_provider_errors_total", Help: "Stream status provider failures by kind"}, []string{"platform", "kind"})
		NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{Name: "nullbot_notifications_sent_total", Help: "Go-live notifications delivered"}, []string{"platform"})
		NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "nullbot_notifications_failed_total", Help: "Go-live notifications the gateway rejected"}, []string{"platform"})
		NotificationsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "nullbot_notifications_suppressed_total", Help: "Newly live entities outside the freshness window"}, []string{"platform"})
		Commands = promauto.NewCounterVec(prometheus.CounterOpts{Name: "nullbot_commands_total", Help: "Chat commands dispatched by outcome"}, []string{"command", "result"})
		PollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "nullbot_stream_poll_duration_seconds", Help: "Stream poll cycle duration seconds", Buckets: prometheus.DefBuckets}, []string{"platform"})
		ProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "nullbot_provider_call_duration_seconds", Help: "Stream status provider call duration seconds", Buckets: prometheus.DefBuckets}, []string{"platform"})
		LiveEntities = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "nullbot_live_entities", Help: "Entities currently believed live"}, []string{"platform"})
		BackoffMultiplier = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "nullbot_stream_backoff_multiplier", Help: "Current poll interval multiplier (1 = no backoff)"}, []string{"platform"})
	})
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// NewCorrelation embeds a fresh random correlation id.
func NewCorrelation(ctx context.Context) context.Context {
	return WithCorrelation(ctx, uuid.NewString())
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
