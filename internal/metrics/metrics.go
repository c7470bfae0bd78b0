package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects node-level counters and latencies. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	AppendTotal     *prometheus.CounterVec
	AppendConflicts prometheus.Counter
	AppendLatency   prometheus.Histogram

	Verifications *prometheus.CounterVec

	RoundLatency   *prometheus.HistogramVec
	SeatsAllocated *prometheus.CounterVec
	Waitlisted     prometheus.Counter

	CacheLookups *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AppendTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oan_ledger_appends_total",
			Help: "Events appended to the ledger by event type",
		}, []string{"event_type"}),

		AppendConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "oan_ledger_append_conflicts_total",
			Help: "Appends retried because the ledger tail moved",
		}),

		AppendLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "oan_ledger_append_duration_seconds",
			Help:    "Duration of a successful append including signing",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oan_ledger_verifications_total",
			Help: "Chain verifications by result",
		}, []string{"result"}), // result: "valid", "invalid"

		RoundLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oan_matching_round_duration_seconds",
			Help:    "Duration of a matching round by merit mode",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"mode"}),

		SeatsAllocated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oan_matching_seats_allocated_total",
			Help: "Seats allocated by bucket type",
		}, []string{"bucket_type"}),

		Waitlisted: f.NewCounter(prometheus.CounterOpts{
			Name: "oan_matching_waitlisted_total",
			Help: "Eligible applicants left on a waitlist",
		}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oan_profile_cache_lookups_total",
			Help: "Profile cache lookups by outcome",
		}, []string{"outcome"}), // outcome: "hit", "miss", "error"
	}
}

func (m *Metrics) ObserveAppend(eventType string, d time.Duration) {
	if m != nil {
		m.AppendTotal.WithLabelValues(eventType).Inc()
		m.AppendLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncAppendConflict() {
	if m != nil {
		m.AppendConflicts.Inc()
	}
}

func (m *Metrics) IncVerification(valid bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.Verifications.WithLabelValues(result).Inc()
}

// ObserveRound records one completed matching round.
func (m *Metrics) ObserveRound(mode string, d time.Duration, seatsByBucketType map[string]int, waitlisted int) {
	if m == nil {
		return
	}
	m.RoundLatency.WithLabelValues(mode).Observe(d.Seconds())
	for bucketType, n := range seatsByBucketType {
		m.SeatsAllocated.WithLabelValues(bucketType).Add(float64(n))
	}
	m.Waitlisted.Add(float64(waitlisted))
}

func (m *Metrics) IncCacheLookup(outcome string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(outcome).Inc()
	}
}
