// Package metrics defines the Prometheus instrumentation for logstore.
//
// All collectors are created against a caller-supplied Registerer so tests can use a
// private registry. Metric operations are safe for concurrent use.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "logstore"

// Ack statuses and write results used as label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Metrics holds every collector exported by the service.
type Metrics struct {
	// AcksTotal counts acknowledgments sent. Labels: transport (ws, rest), status.
	AcksTotal *prometheus.CounterVec

	// AdmissionsRejected counts connection attempts refused by the allow-list.
	AdmissionsRejected prometheus.Counter

	// ActiveConnections tracks open gateway connections.
	ActiveConnections prometheus.Gauge

	// WritesTotal counts physical unit writes. Labels: result (ok, failed).
	WritesTotal *prometheus.CounterVec

	// WriteDuration measures the time spent writing one unit snapshot.
	WriteDuration prometheus.Histogram

	// CoalescedTotal counts write requests folded into an in-flight write.
	CoalescedTotal prometheus.Counter

	// RotationsTotal counts hour rollovers of the ordering buffer.
	RotationsTotal prometheus.Counter

	// BufferedRecords is the number of records held for the current hour.
	BufferedRecords prometheus.Gauge

	// UnitsCleaned counts retention work. Labels: action (archived, removed).
	UnitsCleaned *prometheus.CounterVec

	// SinkStoresTotal counts documents sent to the index sink. Labels: result.
	SinkStoresTotal *prometheus.CounterVec
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AcksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "acks_total",
			Help:      "Acknowledgments sent to producers, by transport and status.",
		}, []string{"transport", "status"}),
		AdmissionsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "admissions_rejected_total",
			Help:      "Connection attempts refused because the peer is not allow-listed.",
		}),
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "active_connections",
			Help:      "Currently open producer connections.",
		}),
		WritesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "writes_total",
			Help:      "Physical storage unit writes, by result.",
		}, []string{"result"}),
		WriteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "write_duration_seconds",
			Help:      "Time spent writing one storage unit snapshot.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		CoalescedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "coalesced_total",
			Help:      "Write requests folded into an in-flight write.",
		}),
		RotationsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "rotations_total",
			Help:      "Hour rollovers of the ordering buffer.",
		}),
		BufferedRecords: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "records",
			Help:      "Records held in memory for the current hour.",
		}),
		UnitsCleaned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleaner",
			Name:      "units_total",
			Help:      "Storage units archived or removed by retention.",
		}, []string{"action"}),
		SinkStoresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "stores_total",
			Help:      "Documents sent to the index sink, by result.",
		}, []string{"result"}),
	}
}

// Handler exposes the collectors registered on g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
