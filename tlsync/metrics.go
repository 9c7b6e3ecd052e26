package tlsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes synchronisation results as Prometheus metrics.
type Metrics struct {
	listsSynced  *prometheus.CounterVec
	listsFailed  *prometheus.CounterVec
	certificates prometheus.Gauge
	pivots       prometheus.Gauge
	duration     prometheus.Gauge
}

// NewMetrics registers the synchronisation metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		listsSynced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustsync_lists_synced_total",
				Help: "Number of trusted lists verified and collected",
			},
			[]string{"stage"},
		),
		listsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustsync_lists_failed_total",
				Help: "Number of trusted lists that could not be synchronised",
			},
			[]string{"stage", "kind"},
		),
		certificates: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "trustsync_certificates_collected",
				Help: "Distinct certificates collected by the last run",
			},
		),
		pivots: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "trustsync_pivots_resolved",
				Help: "Historical LOTL versions verified by the last run",
			},
		),
		duration: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "trustsync_sync_duration_seconds",
				Help: "Duration of the last synchronisation run",
			},
		),
	}
}

// Observe records a finished run.
func (m *Metrics) Observe(report *Report) {
	if report.LOTL != nil {
		m.observeList(*report.LOTL)
	}
	for _, l := range report.Lists {
		m.observeList(l)
	}
	m.certificates.Set(float64(report.Certificates))
	m.pivots.Set(float64(len(report.Pivots)))
	m.duration.Set(report.Duration().Seconds())
}

func (m *Metrics) observeList(l ListResult) {
	if l.Status == StatusFailed {
		m.listsFailed.WithLabelValues(string(l.Stage), l.ErrorKind).Inc()
		return
	}
	m.listsSynced.WithLabelValues(string(l.Stage)).Inc()
}
