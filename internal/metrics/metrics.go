package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	supervisorTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xpol",
			Subsystem: "supervisor",
			Name:      "ticks_total",
			Help:      "Supervisor ticks by the intent consumed.",
		}, []string{"intent"},
	)
	exchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xpol",
			Subsystem: "supervisor",
			Name:      "exchanges_total",
			Help:      "Remote exchanges by operation and outcome.",
		}, []string{"op", "outcome"},
	)
	exchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xpol",
			Subsystem: "supervisor",
			Name:      "exchange_duration_seconds",
			Help:      "Duration of a download or upload including file I/O.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"},
	)
	workerSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xpol",
			Subsystem: "supervisor",
			Name:      "worker_signals_total",
			Help:      "Signals sent to the worker.",
		}, []string{"signal"},
	)

	storeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xpol",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Gene store operations by operation and outcome.",
		}, []string{"op", "outcome"},
	)
	lockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "xpol",
			Subsystem: "store",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the store lock.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
	)
	purged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "xpol",
			Subsystem: "store",
			Name:      "purged_records_total",
			Help:      "Records removed by expiry cleanup.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{supervisorTicks, exchanges, exchangeDuration, workerSignals, storeOps, lockWait, purged}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncTick(intent string) {
	if regOK.Load() {
		supervisorTicks.WithLabelValues(intent).Inc()
	}
}

func ObserveExchange(op string, err error, seconds float64) {
	if regOK.Load() {
		exchanges.WithLabelValues(op, outcome(err)).Inc()
		exchangeDuration.WithLabelValues(op).Observe(seconds)
	}
}

func IncWorkerSignal(signal string) {
	if regOK.Load() {
		workerSignals.WithLabelValues(signal).Inc()
	}
}

func IncStoreOp(op string, err error) {
	if regOK.Load() {
		storeOps.WithLabelValues(op, outcome(err)).Inc()
	}
}

func ObserveLockWait(seconds float64) {
	if regOK.Load() {
		lockWait.Observe(seconds)
	}
}

func AddPurged(n int64) {
	if regOK.Load() && n > 0 {
		purged.Add(float64(n))
	}
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
