package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics records counters for the client sync subsystems.
type SyncMetrics struct {
	reconcileTotal    prometheus.Counter
	reconcileFailures prometheus.Counter
	reconcileDuration prometheus.Histogram
	pushEvents        prometheus.Counter
	reconnects        prometheus.Counter
	cacheFallbacks    *prometheus.CounterVec
}

// NewSyncMetrics registers the sync metrics on the provided registerer.
// A nil registerer yields a no-op instance, which tests rely on.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	reconcileTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cart_reconcile_submissions_total",
		Help: "Cart snapshots submitted to the remote service.",
	})
	reconcileFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cart_reconcile_failures_total",
		Help: "Cart reconcile submissions that failed and rolled back.",
	})
	reconcileDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cart_reconcile_duration_seconds",
		Help:    "Duration of cart reconcile round trips in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	pushEvents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_push_events_total",
		Help: "Notification records delivered over the push channel.",
	})
	reconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_channel_reconnects_total",
		Help: "Push channel reconnect attempts.",
	})
	cacheFallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_cache_fallbacks_total",
		Help: "Catalog reads served from the local snapshot after a remote failure.",
	}, []string{"operation"})
	reg.MustRegister(reconcileTotal, reconcileFailures, reconcileDuration, pushEvents, reconnects, cacheFallbacks)
	return &SyncMetrics{
		reconcileTotal:    reconcileTotal,
		reconcileFailures: reconcileFailures,
		reconcileDuration: reconcileDuration,
		pushEvents:        pushEvents,
		reconnects:        reconnects,
		cacheFallbacks:    cacheFallbacks,
	}
}

// IncReconcile counts a submitted cart snapshot.
func (m *SyncMetrics) IncReconcile() {
	if m == nil || m.reconcileTotal == nil {
		return
	}
	m.reconcileTotal.Inc()
}

// IncReconcileFailure counts a rolled-back reconcile.
func (m *SyncMetrics) IncReconcileFailure() {
	if m == nil || m.reconcileFailures == nil {
		return
	}
	m.reconcileFailures.Inc()
}

// ObserveReconcileDuration records the round trip duration.
func (m *SyncMetrics) ObserveReconcileDuration(d time.Duration) {
	if m == nil || m.reconcileDuration == nil {
		return
	}
	m.reconcileDuration.Observe(d.Seconds())
}

// IncPushEvent counts a delivered notification push.
func (m *SyncMetrics) IncPushEvent() {
	if m == nil || m.pushEvents == nil {
		return
	}
	m.pushEvents.Inc()
}

// IncReconnect counts a push channel reconnect attempt.
func (m *SyncMetrics) IncReconnect() {
	if m == nil || m.reconnects == nil {
		return
	}
	m.reconnects.Inc()
}

// IncCacheFallback counts a catalog read served from the cached snapshot.
func (m *SyncMetrics) IncCacheFallback(operation string) {
	if m == nil || m.cacheFallbacks == nil {
		return
	}
	m.cacheFallbacks.WithLabelValues(normalizeLabel(operation)).Inc()
}

func normalizeLabel(value string) string {
	cleaned := strings.TrimSpace(strings.ToLower(value))
	if cleaned == "" {
		return "unknown"
	}
	return strings.ReplaceAll(cleaned, " ", "_")
}
