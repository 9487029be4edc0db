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
	MessagesMirrored  prometheus.Counter
	KeywordAlerts     prometheus.Counter
	GroupsCreated     prometheus.Counter
	GroupsExtended    prometheus.Counter
	GroupsPruned      prometheus.Counter
	RenderFailures    prometheus.Counter
	TranscriptWrites  prometheus.Counter
	TranscriptFailed  prometheus.Counter
	ArchiveInserts    prometheus.Counter
	GatewayReconnects prometheus.Counter

	// Histograms (seconds)
	RenderDuration prometheus.Observer

	// Gauges
	ActiveGroupsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesMirrored = promauto.NewCounter(prometheus.CounterOpts{Name: "mirror_messages_mirrored_total", Help: "Number of inbound messages mirrored to the log channel"})
		KeywordAlerts = promauto.NewCounter(prometheus.CounterOpts{Name: "mirror_keyword_alerts_total", Help: "Number of keyword alerts triggered"})
		GroupsCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "mirror_groups_created_total", Help: "Number of message groups created"})
		GroupsExtended = promauto.NewCounter(prometheus.CounterOpts{Name: "mirror_groups_extended_total", Help: "Number of messages appended to an existing group"})
		GroupsPruned = promauto.NewCounter(prometheus.CounterOpts{Name: "mirror_groups_pruned_total", Help: "Number of idle groups evicted by the prune sweep"})
		RenderFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "mirror_render_failures_total", Help: "Number of failed composite sends/edits"})
		TranscriptWrites = promauto.NewCounter(prometheus.CounterOpts{Name: "mirror_transcript_writes_total", Help: "Number of transcript entries written"})
		TranscriptFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "mirror_transcript_failures_total", Help: "Number of failed transcript writes"})
		ArchiveInserts = promauto.NewCounter(prometheus.CounterOpts{Name: "mirror_archive_inserts_total", Help: "Number of messages archived to Postgres"})
		GatewayReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "mirror_gateway_reconnects_total", Help: "Number of gateway reconnect attempts"})
		RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "mirror_render_duration_seconds", Help: "Composite render send/edit duration seconds", Buckets: prometheus.DefBuckets})
		ActiveGroupsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "mirror_active_groups", Help: "Current number of active message groups"})
	})
}

// The nil guards below let core packages record metrics without caring
// whether Init ran (tests exercise the grouper without telemetry).

// IncGroupsCreated bumps the created-groups counter.
func IncGroupsCreated() {
	if GroupsCreated != nil {
		GroupsCreated.Inc()
	}
}

// IncGroupsExtended bumps the extended-groups counter.
func IncGroupsExtended() {
	if GroupsExtended != nil {
		GroupsExtended.Inc()
	}
}

// AddGroupsPruned records n evicted groups.
func AddGroupsPruned(n int) {
	if GroupsPruned != nil {
		GroupsPruned.Add(float64(n))
	}
}

// SetActiveGroups records the current group cache size.
func SetActiveGroups(n int) {
	if ActiveGroupsGauge != nil {
		ActiveGroupsGauge.Set(float64(n))
	}
}

// IncMessagesMirrored bumps the mirrored-messages counter.
func IncMessagesMirrored() {
	if MessagesMirrored != nil {
		MessagesMirrored.Inc()
	}
}

// IncKeywordAlerts bumps the keyword-alerts counter.
func IncKeywordAlerts() {
	if KeywordAlerts != nil {
		KeywordAlerts.Inc()
	}
}

// IncRenderFailures bumps the render-failures counter.
func IncRenderFailures() {
	if RenderFailures != nil {
		RenderFailures.Inc()
	}
}

// IncTranscriptWrites bumps the transcript-writes counter.
func IncTranscriptWrites() {
	if TranscriptWrites != nil {
		TranscriptWrites.Inc()
	}
}

// IncTranscriptFailed bumps the failed-transcript-writes counter.
func IncTranscriptFailed() {
	if TranscriptFailed != nil {
		TranscriptFailed.Inc()
	}
}

// IncGatewayReconnects bumps the gateway-reconnects counter.
func IncGatewayReconnects() {
	if GatewayReconnects != nil {
		GatewayReconnects.Inc()
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

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
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
