package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "proxyvisr"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	coreStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "starts_total",
			Help:      "Number of successful proxy core starts.",
		}, []string{"name"},
	)
	coreStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "start_failures_total",
			Help:      "Number of failed start requests by stage (config, spawn, proxy).",
		}, []string{"stage"},
	)
	coreStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "stops_total",
			Help:      "Number of requested stops of a running core.",
		}, []string{"name"},
	)
	coreExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "exits_total",
			Help:      "Number of times the core exited without being asked to.",
		}, []string{"name"},
	)
	coreStartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "start_duration_seconds",
			Help:      "Time from start request to a running core with the system proxy set.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	coreRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "running",
			Help:      "1 while a supervised core is running.",
		},
	)
	fatalLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "fatal_lines_total",
			Help:      "Number of fatal lines written by the core.",
		}, []string{"name"},
	)
	portConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "port_conflicts_total",
			Help:      "Number of bind conflicts reported by the core.",
		}, []string{"port"},
	)
	proxyChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "system_proxy",
			Name:      "changes_total",
			Help:      "System proxy enable/disable attempts by result.",
		}, []string{"action", "result"},
	)
	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events not delivered to a slow subscriber.",
		}, []string{"type"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		coreStarts, coreStartFailures, coreStops, coreExits, coreStartDuration,
		coreRunning, fatalLines, portConflicts, proxyChanges, eventsDropped,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register has been called.

func IncStart(name string) {
	if regOK.Load() {
		coreStarts.WithLabelValues(name).Inc()
	}
}

func IncStartFailure(stage string) {
	if regOK.Load() {
		coreStartFailures.WithLabelValues(stage).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		coreStops.WithLabelValues(name).Inc()
	}
}

func IncExit(name string) {
	if regOK.Load() {
		coreExits.WithLabelValues(name).Inc()
	}
}

func ObserveStartDuration(name string, seconds float64) {
	if regOK.Load() {
		coreStartDuration.WithLabelValues(name).Observe(seconds)
	}
}

func SetRunning(running bool) {
	if regOK.Load() {
		v := 0.0
		if running {
			v = 1
		}
		coreRunning.Set(v)
	}
}

func IncFatalLine(name string) {
	if regOK.Load() {
		fatalLines.WithLabelValues(name).Inc()
	}
}

func IncPortConflict(port string) {
	if regOK.Load() {
		portConflicts.WithLabelValues(port).Inc()
	}
}

// RecordProxyChange counts a system proxy enable/disable attempt.
func RecordProxyChange(action string, err error) {
	if regOK.Load() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		proxyChanges.WithLabelValues(action, result).Inc()
	}
}

func IncEventDropped(eventType string) {
	if regOK.Load() {
		eventsDropped.WithLabelValues(eventType).Inc()
	}
}
