package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestInitRegistersMetrics(t *testing.T) {
	Init()

	if MessagesMirrored == nil {
		t.Error("MessagesMirrored counter not initialized")
	}
	if RenderDuration == nil {
		t.Error("RenderDuration histogram not initialized")
	}
	if ActiveGroupsGauge == nil {
		t.Error("ActiveGroupsGauge not initialized")
	}

	// Init must be safe to call twice.
	Init()
}

func TestNilGuardedHelpers(t *testing.T) {
	// Helpers must not panic whether or not Init has run. Running them
	// after Init also exercises the registered collectors.
	Init()

	IncMessagesMirrored()
	IncKeywordAlerts()
	IncGroupsCreated()
	IncGroupsExtended()
	AddGroupsPruned(3)
	SetActiveGroups(7)
	IncRenderFailures()
	IncTranscriptWrites()
	IncTranscriptFailed()
	IncGatewayReconnects()
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})
	prometheus.MustRegister(testHistogram)
	defer prometheus.Unregister(testHistogram)

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
	if metric.Histogram == nil {
		t.Fatal("Histogram metric is nil")
	}
	if *metric.Histogram.SampleCount == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestTimeFuncNilObserver(t *testing.T) {
	d := TimeFunc(nil, func() {})
	if d < 0 {
		t.Errorf("duration = %v, want >= 0", d)
	}
}

func TestCorrelationRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation(empty ctx) = %q, want empty", got)
	}

	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("GetCorrelation = %q, want abc-123", got)
	}
}

func TestLoggerWithCorr(t *testing.T) {
	if LoggerWithCorr(context.Background()) == nil {
		t.Error("logger without correlation should not be nil")
	}
	ctx := WithCorrelation(context.Background(), "corr-1")
	if LoggerWithCorr(ctx) == nil {
		t.Error("logger with correlation should not be nil")
	}
}
