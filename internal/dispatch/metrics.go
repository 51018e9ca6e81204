package dispatch

import (
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/delivery"
	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSkippedDisabled    = "skipped_disabled"
	outcomeSkippedUnreachable = "skipped_unreachable"
)

// Metrics records dispatcher activity. A nil *Metrics records nothing.
type Metrics struct {
	occasions        *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	contention       *prometheus.CounterVec
	retriesScheduled *prometheus.CounterVec
	duration         prometheus.Histogram
}

// NewMetrics registers the dispatcher collectors with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		occasions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "draft_alerts_occasions_total",
			Help: "Alert occasions produced by transition evaluation",
		}, []string{"kind"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "draft_alerts_deliveries_total",
			Help: "Delivery decisions and attempts by kind, channel and outcome",
		}, []string{"kind", "channel", "outcome"}),
		contention: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "draft_alerts_ledger_contention_total",
			Help: "Ledger claims lost to a concurrent invocation",
		}, []string{"kind"}),
		retriesScheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "draft_alerts_retries_scheduled_total",
			Help: "Transient delivery failures scheduled for another attempt",
		}, []string{"kind"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "draft_alerts_dispatch_duration_seconds",
			Help:    "Time spent handling one draft change",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
}

func (m *Metrics) observeOccasion(kind draft.AlertKind) {
	if m == nil {
		return
	}
	m.occasions.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) observeDelivery(kind draft.AlertKind, channel delivery.Channel, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(kind.String(), string(channel), outcome).Inc()
}

func (m *Metrics) observeContention(kind draft.AlertKind) {
	if m == nil {
		return
	}
	m.contention.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) observeRetry(kind draft.AlertKind) {
	if m == nil {
		return
	}
	m.retriesScheduled.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) observeDuration(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(elapsed.Seconds())
}
