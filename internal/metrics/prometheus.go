// Package metrics exposes ipsweep's Prometheus instrumentation. A Metrics
// value owns a private registry and observes the job manager, the scan
// engine, the external importer and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anstrom/ipsweep/internal/jobs"
	"github.com/anstrom/ipsweep/internal/scanning"
)

const (
	namespace = "ipsweep"

	subsystemJobs      = "jobs"
	subsystemScan      = "scan"
	subsystemDiscovery = "discovery"
	subsystemAPI       = "api"
)

// Metrics holds every collector. It implements jobs.Listener,
// scanning.Recorder and discovery.Recorder.
type Metrics struct {
	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	activeJobs  prometheus.Gauge

	hostsTotal   *prometheus.CounterVec
	portsTotal   *prometheus.CounterVec
	hostDuration *prometheus.HistogramVec
	inFlight     prometheus.Gauge

	importsTotal  *prometheus.CounterVec
	importedHosts *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	mu      sync.Mutex
	running map[string]struct{}

	startTime time.Time
	registry  *prometheus.Registry
}

var (
	_ jobs.Listener      = (*Metrics)(nil)
	_ scanning.Recorder = (*Metrics)(nil)
)

// New creates a Metrics instance with all collectors registered on a fresh
// private registry.
func New() *Metrics {
	m := &Metrics{
		running:   make(map[string]struct{}),
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
	}

	m.initJobMetrics()
	m.initScanMetrics()
	m.initDiscoveryMetrics()
	m.initAPIMetrics()
	m.registerMetrics()

	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) initJobMetrics() {
	m.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemJobs,
			Name:      "total",
			Help:      "Jobs that reached a terminal state, by state",
		},
		[]string{"state"},
	)

	m.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemJobs,
			Name:      "duration_seconds",
			Help:      "Wall time from job start to terminal state",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
		[]string{"state"},
	)

	m.activeJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemJobs,
			Name:      "active",
			Help:      "Jobs currently running",
		},
	)
}

func (m *Metrics) initScanMetrics() {
	m.hostsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "hosts_total",
			Help:      "Hosts scanned, by liveness status",
		},
		[]string{"status"},
	)

	m.portsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "ports_total",
			Help:      "Ports reported by completed jobs, by state",
		},
		[]string{"state"},
	)

	m.hostDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "host_duration_seconds",
			Help:      "Duration of a single host scan",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	m.inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "hosts_in_flight",
			Help:      "Host scans currently executing",
		},
	)
}

func (m *Metrics) initDiscoveryMetrics() {
	m.importsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "imports_total",
			Help:      "External discovery imports, by source",
		},
		[]string{"source"},
	)

	m.importedHosts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "hosts_total",
			Help:      "Hosts processed by external imports, by source and outcome",
		},
		[]string{"source", "outcome"},
	)
}

func (m *Metrics) initAPIMetrics() {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"method", "route"},
	)
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(
		m.jobsTotal, m.jobDuration, m.activeJobs,
		m.hostsTotal, m.portsTotal, m.hostDuration, m.inFlight,
		m.importsTotal, m.importedHosts,
		m.httpRequests, m.httpDuration,
	)
}

// Registry returns the private registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Uptime returns the time since the instance was created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// OnJobEvent implements jobs.Listener.
func (m *Metrics) OnJobEvent(e jobs.Event) {
	if e.Kind != jobs.EventState {
		return
	}
	st := e.Status

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case st.State == jobs.StateRunning:
		if _, ok := m.running[st.JobID]; !ok {
			m.running[st.JobID] = struct{}{}
			m.activeJobs.Inc()
		}
	case st.State.Terminal():
		if _, ok := m.running[st.JobID]; ok {
			delete(m.running, st.JobID)
			m.activeJobs.Dec()
		}
		m.jobsTotal.WithLabelValues(string(st.State)).Inc()
		if st.StartedAt != nil && st.CompletedAt != nil {
			m.jobDuration.WithLabelValues(string(st.State)).Observe(st.CompletedAt.Sub(*st.StartedAt).Seconds())
		}
		if st.State == jobs.StateCompleted {
			open := 0
			for _, h := range st.Results {
				open += len(h.OpenPorts)
			}
			m.portsTotal.WithLabelValues("open").Add(float64(open))
		}
	}
}

// HostScanStarted implements scanning.Recorder.
func (m *Metrics) HostScanStarted() {
	m.inFlight.Inc()
}

// HostScanFinished implements scanning.Recorder.
func (m *Metrics) HostScanFinished(status string, elapsed time.Duration) {
	m.inFlight.Dec()
	m.hostsTotal.WithLabelValues(status).Inc()
	m.hostDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// ExternalImport implements discovery.Recorder.
func (m *Metrics) ExternalImport(source string, upserted, failed int) {
	m.importsTotal.WithLabelValues(source).Inc()
	m.importedHosts.WithLabelValues(source, "upserted").Add(float64(upserted))
	m.importedHosts.WithLabelValues(source, "failed").Add(float64(failed))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
