package metrics

import (
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	refreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charging_refreshes_total",
			Help: "Scheduled source refreshes by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	acquiresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charging_acquires_total",
			Help: "Port acquisition attempts by result.",
		},
		[]string{"result"},
	)

	releasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charging_releases_total",
			Help: "Port release attempts by result.",
		},
		[]string{"result"},
	)

	commandLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "charging_control_command_latency_ms",
			Help:    "Hardware control command round-trip distribution in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 15000},
		},
		[]string{"command", "success"},
	)

	extensionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charging_extensions_total",
			Help: "Quota extensions by type (direct_purchase/borrow_next_day).",
		},
		[]string{"type"},
	)

	quotaRollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "charging_quota_rolls_total",
			Help: "Daily ledger rollovers applied.",
		},
	)

	forcedClosesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "charging_forced_closes_total",
			Help: "Sessions closed locally after an unacknowledged OFF command.",
		},
	)

	feedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "charging_feed_events_total",
			Help: "Change feed events received.",
		},
	)

	feedReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "charging_feed_reconnects_total",
			Help: "Change feed reconnect attempts.",
		},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			refreshesTotal, acquiresTotal, releasesTotal,
			commandLatencyMs, extensionsTotal,
			quotaRollsTotal, forcedClosesTotal,
			feedEventsTotal, feedReconnectsTotal,
		)
	})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncRefresh(source, outcome string) {
	refreshesTotal.WithLabelValues(norm(source), norm(outcome)).Inc()
}

func IncAcquire(result string) {
	acquiresTotal.WithLabelValues(norm(result)).Inc()
}

func IncRelease(result string) {
	releasesTotal.WithLabelValues(norm(result)).Inc()
}

func ObserveCommand(command string, latencyMs int64, success bool) {
	commandLatencyMs.WithLabelValues(norm(command), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func IncExtension(extensionType string) {
	extensionsTotal.WithLabelValues(norm(extensionType)).Inc()
}

func IncQuotaRoll() { quotaRollsTotal.Inc() }

func IncForcedClose() { forcedClosesTotal.Inc() }

func IncFeedEvent() { feedEventsTotal.Inc() }

func IncFeedReconnect() { feedReconnectsTotal.Inc() }
