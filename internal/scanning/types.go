package scanning

import (
	"math"
	"net/netip"
	"time"
)

// HostStatus is the liveness outcome for one address.
type HostStatus string

// Liveness outcomes.
const (
	StatusOnline  HostStatus = "online"
	StatusOffline HostStatus = "offline"
)

// HostResult is one address's outcome. It is produced once per address per
// run and not modified afterwards.
type HostResult struct {
	Address  netip.Addr `json:"address"`
	Hostname string     `json:"hostname,omitempty"`
	MAC      string     `json:"mac,omitempty"`
	Status   HostStatus `json:"status"`
	// LatencyMS is only set for online hosts.
	LatencyMS    *float64       `json:"latency_ms,omitempty"`
	OpenPorts    []int          `json:"open_ports"`
	Services     map[int]string `json:"services"`
	DiscoveredAt time.Time      `json:"discovered_at"`
}

// Online reports whether the host answered the liveness probe.
func (r *HostResult) Online() bool {
	return r.Status == StatusOnline
}

func offlineResult(addr netip.Addr, at time.Time) HostResult {
	return HostResult{
		Address:      addr,
		Status:       StatusOffline,
		OpenPorts:    []int{},
		Services:     map[int]string{},
		DiscoveredAt: at,
	}
}

// ScanStatistics are the aggregate counters of one run.
type ScanStatistics struct {
	Total     int        `json:"total"`
	Scanned   int        `json:"scanned"`
	Online    int        `json:"online"`
	Offline   int        `json:"offline"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// Percent is Scanned/Total as a percentage rounded to two decimals.
func (s ScanStatistics) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return math.Round(float64(s.Scanned)*10000/float64(s.Total)) / 100
}

// Duration is the run time so far, or the total once finished.
func (s ScanStatistics) Duration() time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}

func (s *ScanStatistics) record(r *HostResult) {
	s.Scanned++
	if r.Online() {
		s.Online++
	} else {
		s.Offline++
	}
}

// Snapshot is delivered to progress handlers after every completed host.
type Snapshot struct {
	Current int            `json:"current"`
	Total   int            `json:"total"`
	Percent float64        `json:"percent"`
	Stats   ScanStatistics `json:"stats"`
	Result  HostResult     `json:"result"`
}

// ProgressHandler observes a running scan.
type ProgressHandler interface {
	OnProgress(Snapshot)
}

// ProgressFunc adapts a function to ProgressHandler.
type ProgressFunc func(Snapshot)

// OnProgress calls f.
func (f ProgressFunc) OnProgress(s Snapshot) { f(s) }

// Phase is the engine's position in a run.
type Phase int32

// Engine phases, in order.
const (
	PhaseNotStarted Phase = iota
	PhaseResolving
	PhaseScanning
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not started"
	case PhaseResolving:
		return "resolving"
	case PhaseScanning:
		return "scanning"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// HostOptions controls what the Host Scanner does for each address.
type HostOptions struct {
	LivenessOnly    bool
	Ports           []int
	ProbeTimeout    time.Duration
	LivenessTimeout time.Duration
	// PortConcurrency caps simultaneous port probes per host.
	PortConcurrency int
	// SNMP adds an SNMP agent check on UDP/161.
	SNMP bool
}

// Default tunables. None of these are load-bearing; all are configurable.
const (
	DefaultMaxConcurrent   = 100
	DefaultPortConcurrency = 50
	DefaultProbeTimeout    = 3 * time.Second
	DefaultLivenessTimeout = time.Second
)

func (o HostOptions) withDefaults() HostOptions {
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	if o.LivenessTimeout <= 0 {
		o.LivenessTimeout = DefaultLivenessTimeout
	}
	if o.PortConcurrency <= 0 {
		o.PortConcurrency = DefaultPortConcurrency
	}
	return o
}

// latencyMS converts a probe latency to milliseconds with microsecond precision.
func latencyMS(d time.Duration) *float64 {
	ms := float64(d.Microseconds()) / 1000
	return &ms
}
