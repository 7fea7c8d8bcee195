package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init()

	if SweepDuration == nil || CaptureDuration == nil {
		t.Fatal("histograms not initialized")
	}
	if ChannelBackups == nil || SweepsSkipped == nil {
		t.Fatal("counters not initialized")
	}
}

func TestObserveChannelBackup(t *testing.T) {
	Init()

	before := counterValue(t, ChannelBackups.WithLabelValues("collection"))
	ObserveChannelBackup("collection")
	ObserveChannelBackup("collection")
	if got := counterValue(t, ChannelBackups.WithLabelValues("collection")); got != before+2 {
		t.Fatalf("collection counter = %v, want %v", got, before+2)
	}
}

func TestGaugeHelpers(t *testing.T) {
	Init()

	SetSweepInProgress(true)
	if v := gaugeValue(t, SweepInProgressGauge); v != 1 {
		t.Errorf("in-progress gauge = %v, want 1", v)
	}
	SetSweepInProgress(false)
	if v := gaugeValue(t, SweepInProgressGauge); v != 0 {
		t.Errorf("in-progress gauge = %v, want 0", v)
	}
	SetInterval(90 * time.Minute)
	if v := gaugeValue(t, IntervalGauge); v != 5400 {
		t.Errorf("interval gauge = %v, want 5400", v)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", metric.Histogram.GetSampleCount())
	}
}

func TestTimeFuncNilObserver(t *testing.T) {
	ran := false
	TimeFunc(nil, func() { ran = true })
	if !ran {
		t.Fatal("fn not executed")
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Fatal("expected empty correlation id")
	}
	ctx = WithCorrelation(ctx, "abc")
	if GetCorrelation(ctx) != "abc" {
		t.Fatalf("got %q", GetCorrelation(ctx))
	}
	if LoggerWithCorr(ctx) == nil {
		t.Fatal("nil logger")
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}
