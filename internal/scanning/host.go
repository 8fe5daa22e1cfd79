package scanning

import (
	"context"
	"net/netip"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anstrom/ipsweep/internal/liveness"
	"github.com/anstrom/ipsweep/internal/ports"
	"github.com/anstrom/ipsweep/internal/services"
)

// Scanner produces the HostResult for one address.
type Scanner interface {
	Scan(ctx context.Context, addr netip.Addr, opts HostOptions) HostResult
}

// Classifier names the service on an open port.
type Classifier interface {
	Classify(ctx context.Context, addr netip.Addr, port int) string
}

// SNMPProber checks for an SNMP agent.
type SNMPProber interface {
	Probe(ctx context.Context, addr netip.Addr, timeout time.Duration) (string, bool)
}

// HostScanner composes liveness, name lookup, port probing and service
// classification for a single address.
type HostScanner struct {
	liveness   liveness.Prober
	ports      ports.Prober
	classifier Classifier
	names      NameResolver
	snmp       SNMPProber
	now        func() time.Time
}

var _ Scanner = (*HostScanner)(nil)

// HostScannerOption configures a HostScanner.
type HostScannerOption func(*HostScanner)

// WithLivenessProber replaces the default exec ping prober.
func WithLivenessProber(p liveness.Prober) HostScannerOption {
	return func(s *HostScanner) { s.liveness = p }
}

// WithPortProber replaces the default TCP connect prober.
func WithPortProber(p ports.Prober) HostScannerOption {
	return func(s *HostScanner) { s.ports = p }
}

// WithClassifier replaces the default service classifier.
func WithClassifier(c Classifier) HostScannerOption {
	return func(s *HostScanner) { s.classifier = c }
}

// WithNameResolver replaces the default DNS resolver.
func WithNameResolver(r NameResolver) HostScannerOption {
	return func(s *HostScanner) { s.names = r }
}

// WithSNMPProber replaces the default SNMP probe.
func WithSNMPProber(p SNMPProber) HostScannerOption {
	return func(s *HostScanner) { s.snmp = p }
}

// NewHostScanner creates a HostScanner. Collaborators not supplied through
// options get their production defaults.
func NewHostScanner(opts ...HostScannerOption) *HostScanner {
	s := &HostScanner{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.liveness == nil {
		s.liveness = liveness.NewExecProber()
	}
	if s.ports == nil {
		s.ports = ports.NewTCPProber()
	}
	if s.classifier == nil {
		s.classifier = services.NewClassifier()
	}
	if s.names == nil {
		s.names = NewDNSResolver("", 0)
	}
	if s.snmp == nil {
		s.snmp = services.NewSNMPProbe("")
	}
	return s
}

// Scan probes addr. Offline hosts get no name lookup or port probing, and
// liveness-only runs stop after the name lookup.
func (s *HostScanner) Scan(ctx context.Context, addr netip.Addr, opts HostOptions) HostResult {
	opts = opts.withDefaults()
	res := offlineResult(addr, s.now())

	live := s.liveness.Probe(ctx, addr, opts.LivenessTimeout)
	if !live.Alive {
		return res
	}
	res.Status = StatusOnline
	res.LatencyMS = latencyMS(live.Latency)
	res.MAC = live.MAC
	res.Hostname = s.names.LookupAddr(ctx, addr)

	if opts.LivenessOnly {
		return res
	}

	open := s.probePorts(ctx, addr, opts)
	if opts.SNMP {
		if _, ok := s.snmp.Probe(ctx, addr, opts.ProbeTimeout); ok {
			if _, seen := open[services.SNMPPort]; !seen {
				open[services.SNMPPort] = "snmp"
			}
		}
	}

	for port, name := range open {
		res.OpenPorts = append(res.OpenPorts, port)
		res.Services[port] = name
	}
	sort.Ints(res.OpenPorts)
	return res
}

// probePorts probes and classifies every configured port with at most
// PortConcurrency probes in flight.
func (s *HostScanner) probePorts(ctx context.Context, addr netip.Addr, opts HostOptions) map[int]string {
	var (
		mu   sync.Mutex
		open = make(map[int]string)
		g    errgroup.Group
	)
	g.SetLimit(opts.PortConcurrency)

	for _, port := range opts.Ports {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if !s.ports.Probe(ctx, addr, port, opts.ProbeTimeout) {
				return nil
			}
			name := s.classifier.Classify(ctx, addr, port)
			mu.Lock()
			open[port] = name
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return open
}
