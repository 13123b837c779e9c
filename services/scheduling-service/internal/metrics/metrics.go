// Package metrics owns the service's Prometheus registry. Every method is safe on a nil
// *Metrics so components can run uninstrumented in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Booking outcomes.
const (
	OutcomeCommitted   = "committed"
	OutcomeRejected    = "rejected"
	OutcomeInvalid     = "invalid"
	OutcomeConcurrency = "concurrency"
	OutcomeError       = "error"
)

type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	bookings        *prometheus.CounterVec
	conflicts       *prometheus.CounterVec
	retries         prometheus.Counter
	statusChanges   *prometheus.CounterVec
	lockWait        prometheus.Histogram
	slotQuery       prometheus.Histogram
	slotsReturned   prometheus.Histogram
	requestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	bookings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduling_booking_requests_total",
		Help: "Booking requests by final outcome and frequency",
	}, []string{"outcome", "frequency"})

	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduling_booking_conflicts_total",
		Help: "Rejected occurrences by reason",
	}, []string{"reason"})

	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduling_booking_retries_total",
		Help: "Booking attempts retried after a concurrency failure",
	})

	statusChanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduling_commitment_status_changes_total",
		Help: "Commitments moved to a new status",
	}, []string{"status"})

	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduling_lock_wait_seconds",
		Help:    "Time spent waiting for the per-mentor lock",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	slotQuery := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduling_slot_query_duration_seconds",
		Help:    "Duration of slot generation queries",
		Buckets: prometheus.DefBuckets,
	})

	slotsReturned := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduling_slots_returned",
		Help:    "Number of slots returned per query",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	registry.MustRegister(
		bookings, conflicts, retries, statusChanges, lockWait, slotQuery, slotsReturned, requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		bookings:        bookings,
		conflicts:       conflicts,
		retries:         retries,
		statusChanges:   statusChanges,
		lockWait:        lockWait,
		slotQuery:       slotQuery,
		slotsReturned:   slotsReturned,
		requestDuration: requestDuration,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveBooking(outcome, frequency string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome, frequency).Inc()
}

func (m *Metrics) ObserveConflict(reason string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) ObserveStatusChange(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.statusChanges.WithLabelValues(status).Add(float64(n))
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

func (m *Metrics) ObserveSlotQuery(d time.Duration, slots int) {
	if m == nil {
		return
	}
	m.slotQuery.Observe(d.Seconds())
	m.slotsReturned.Observe(float64(slots))
}

// ObserveHTTPRequest records one request under its route pattern, never the raw path.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
