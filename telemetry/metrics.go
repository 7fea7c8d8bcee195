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
	SweepsStarted    prometheus.Counter
	SweepsSkipped    prometheus.Counter
	ChannelBackups   *prometheus.CounterVec // label: result
	MessagesCaptured prometheus.Counter
	ArchivesWritten  prometheus.Counter
	ArchivesDeleted  prometheus.Counter
	MirrorFailures   prometheus.Counter
	NotifyFailures   prometheus.Counter

	// Histograms (seconds)
	SweepDuration   prometheus.Observer
	CaptureDuration prometheus.Observer

	// Gauges
	SweepInProgressGauge prometheus.Gauge
	IntervalGauge        prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SweepsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_sweeps_started_total", Help: "Number of backup sweeps started"})
		SweepsSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_sweeps_skipped_total", Help: "Number of timer ticks dropped because a sweep was already running"})
		ChannelBackups = promauto.NewCounterVec(prometheus.CounterOpts{Name: "archiver_channel_backups_total", Help: "Per-channel backup outcomes"}, []string{"result"})
		MessagesCaptured = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_messages_captured_total", Help: "Messages captured across all archives"})
		ArchivesWritten = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_archives_written_total", Help: "Archives persisted to the data directory"})
		ArchivesDeleted = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_archives_deleted_total", Help: "Archives removed by delete-all or retention"})
		MirrorFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_mirror_failures_total", Help: "Failed uploads or deletes against the object-store mirror"})
		NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_notify_failures_total", Help: "Notifications that could not be delivered"})
		SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "archiver_sweep_duration_seconds", Help: "Full sweep duration seconds", Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800}})
		CaptureDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "archiver_capture_duration_seconds", Help: "Single channel history capture duration seconds", Buckets: prometheus.DefBuckets})
		SweepInProgressGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "archiver_sweep_in_progress", Help: "1 while a sweep is running"})
		IntervalGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "archiver_sweep_interval_seconds", Help: "Current recurring sweep interval"})
	})
}

// ObserveChannelBackup counts one channel outcome under its result label.
func ObserveChannelBackup(result string) {
	if ChannelBackups != nil {
		ChannelBackups.WithLabelValues(result).Inc()
	}
}

// AddMessagesCaptured adds n to the captured message counter.
func AddMessagesCaptured(n int) {
	if MessagesCaptured != nil {
		MessagesCaptured.Add(float64(n))
	}
}

// Inc increments c if it has been registered.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// AddDeleted adds n to the deleted archive counter.
func AddDeleted(n int) {
	if ArchivesDeleted != nil {
		ArchivesDeleted.Add(float64(n))
	}
}

// SetSweepInProgress sets the gauge to 1 while a sweep runs else 0.
func SetSweepInProgress(running bool) {
	if SweepInProgressGauge == nil {
		return
	}
	if running {
		SweepInProgressGauge.Set(1)
	} else {
		SweepInProgressGauge.Set(0)
	}
}

// SetInterval records the configured sweep interval.
func SetInterval(d time.Duration) {
	if IntervalGauge != nil {
		IntervalGauge.Set(d.Seconds())
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
