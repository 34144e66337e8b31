// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	SubmissionsTotal    prometheus.Counter
	SubmissionsRejected prometheus.Counter
	EnqueueFailures     prometheus.Counter
	ChatCommandsSeen    prometheus.Counter
	ChatFeedbackErrors  prometheus.Counter
	ResolutionsTotal    *prometheus.CounterVec // labeled by decision

	// Histograms (seconds)
	HTTPDuration    *prometheus.HistogramVec // labeled by method, path
	EnqueueDuration prometheus.Observer

	// Gauges
	PendingDepthGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SubmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "songrequest_submissions_total", Help: "Number of song requests accepted"})
		SubmissionsRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "songrequest_submissions_rejected_total", Help: "Number of song request submissions rejected (unresolvable track or bad input)"})
		EnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "songrequest_enqueue_failures_total", Help: "Number of approval batches aborted because a Spotify enqueue call failed"})
		ChatCommandsSeen = promauto.NewCounter(prometheus.CounterOpts{Name: "songrequest_chat_commands_total", Help: "Number of !sr chat commands observed"})
		ChatFeedbackErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "songrequest_chat_feedback_errors_total", Help: "Number of chat feedback messages that failed to send"})
		ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "songrequest_resolutions_total", Help: "Number of song requests resolved, by decision"}, []string{"decision"})
		HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "songrequest_http_request_duration_seconds", Help: "HTTP request duration seconds", Buckets: prometheus.DefBuckets}, []string{"method", "path"})
		EnqueueDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "songrequest_enqueue_duration_seconds", Help: "Spotify enqueue batch duration seconds", Buckets: prometheus.DefBuckets})
		PendingDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "songrequest_pending_depth", Help: "Current number of pending song requests"})
	})
}

// CountSubmission records one accepted song request.
func CountSubmission() {
	if SubmissionsTotal != nil {
		SubmissionsTotal.Inc()
	}
}

// CountRejectedSubmission records one rejected submission attempt.
func CountRejectedSubmission() {
	if SubmissionsRejected != nil {
		SubmissionsRejected.Inc()
	}
}

// CountResolution records n requests resolved with the given decision.
func CountResolution(decision string, n int) {
	if ResolutionsTotal != nil {
		ResolutionsTotal.WithLabelValues(decision).Add(float64(n))
	}
}

// CountEnqueueFailure records one aborted approval batch.
func CountEnqueueFailure() {
	if EnqueueFailures != nil {
		EnqueueFailures.Inc()
	}
}

// CountChatCommand records one observed !sr command.
func CountChatCommand() {
	if ChatCommandsSeen != nil {
		ChatCommandsSeen.Inc()
	}
}

// CountChatFeedbackError records one failed chat feedback send.
func CountChatFeedbackError() {
	if ChatFeedbackErrors != nil {
		ChatFeedbackErrors.Inc()
	}
}

// SetPendingDepth records the current pending queue depth.
func SetPendingDepth(n int) {
	if PendingDepthGauge != nil {
		PendingDepthGauge.Set(float64(n))
	}
}

// ObserveHTTP records one served request's duration.
func ObserveHTTP(method, path string, d time.Duration) {
	if HTTPDuration != nil {
		HTTPDuration.WithLabelValues(method, path).Observe(d.Seconds())
	}
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

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
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
