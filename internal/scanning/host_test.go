package scanning

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/ipsweep/internal/liveness"
	"github.com/anstrom/ipsweep/internal/ports"
	"github.com/anstrom/ipsweep/internal/services"
)

var target = netip.MustParseAddr("10.1.2.3")

func alive(latency time.Duration) liveness.Prober {
	return liveness.ProberFunc(func(context.Context, netip.Addr, time.Duration) liveness.Result {
		return liveness.Result{Alive: true, Latency: latency, MAC: "02:00:00:00:00:01"}
	})
}

func dead() liveness.Prober {
	return liveness.ProberFunc(func(context.Context, netip.Addr, time.Duration) liveness.Result {
		return liveness.Result{}
	})
}

func openPorts(open ...int) ports.Prober {
	set := make(map[int]bool, len(open))
	for _, p := range open {
		set[p] = true
	}
	return ports.ProberFunc(func(_ context.Context, _ netip.Addr, port int, _ time.Duration) bool {
		return set[port]
	})
}

type staticNames string

func (s staticNames) LookupAddr(context.Context, netip.Addr) string { return string(s) }

type fakeSNMP bool

func (f fakeSNMP) Probe(context.Context, netip.Addr, time.Duration) (string, bool) {
	return "test agent", bool(f)
}

func newTestHostScanner(opts ...HostScannerOption) *HostScanner {
	base := []HostScannerOption{
		WithNameResolver(staticNames("")),
		WithClassifier(services.NewClassifier(services.WithTLSSniff(false), services.WithTimeout(100*time.Millisecond))),
		WithSNMPProber(fakeSNMP(false)),
	}
	return NewHostScanner(append(base, opts...)...)
}

func TestHostScannerOffline(t *testing.T) {
	var portCalls atomic.Int32
	s := newTestHostScanner(
		WithLivenessProber(dead()),
		WithPortProber(ports.ProberFunc(func(context.Context, netip.Addr, int, time.Duration) bool {
			portCalls.Add(1)
			return true
		})),
	)

	res := s.Scan(context.Background(), target, HostOptions{Ports: []int{22, 80}})
	assert.Equal(t, StatusOffline, res.Status)
	assert.Nil(t, res.LatencyMS)
	assert.Empty(t, res.OpenPorts)
	assert.NotNil(t, res.Services)
	assert.Zero(t, portCalls.Load())
	assert.False(t, res.DiscoveredAt.IsZero())
}

func TestHostScannerLivenessOnly(t *testing.T) {
	var portCalls atomic.Int32
	s := newTestHostScanner(
		WithLivenessProber(alive(1500*time.Microsecond)),
		WithNameResolver(staticNames("gw.lan")),
		WithPortProber(ports.ProberFunc(func(context.Context, netip.Addr, int, time.Duration) bool {
			portCalls.Add(1)
			return true
		})),
	)

	res := s.Scan(context.Background(), target, HostOptions{LivenessOnly: true, Ports: []int{22}})
	assert.Equal(t, StatusOnline, res.Status)
	require.NotNil(t, res.LatencyMS)
	assert.InDelta(t, 1.5, *res.LatencyMS, 0.0001)
	assert.Equal(t, "gw.lan", res.Hostname)
	assert.Equal(t, "02:00:00:00:00:01", res.MAC)
	assert.Empty(t, res.OpenPorts)
	assert.Zero(t, portCalls.Load())
}

func TestHostScannerPorts(t *testing.T) {
	s := newTestHostScanner(
		WithLivenessProber(alive(time.Millisecond)),
		WithPortProber(openPorts(443, 22, 5432)),
	)

	res := s.Scan(context.Background(), target, HostOptions{Ports: []int{21, 22, 80, 443, 5432, 65000}})
	assert.Equal(t, []int{22, 443, 5432}, res.OpenPorts)
	assert.Equal(t, map[int]string{22: "ssh", 443: "https", 5432: "postgresql"}, res.Services)
}

func TestHostScannerPortConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	prober := ports.ProberFunc(func(context.Context, netip.Addr, int, time.Duration) bool {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return false
	})
	s := newTestHostScanner(WithLivenessProber(alive(time.Millisecond)), WithPortProber(prober))

	list := make([]int, 200)
	for i := range list {
		list[i] = i + 1
	}
	s.Scan(context.Background(), target, HostOptions{Ports: list, PortConcurrency: 7})
	assert.LessOrEqual(t, peak.Load(), int32(7))
	assert.Positive(t, peak.Load())
}

func TestHostScannerSNMP(t *testing.T) {
	s := newTestHostScanner(
		WithLivenessProber(alive(time.Millisecond)),
		WithPortProber(openPorts()),
		WithSNMPProber(fakeSNMP(true)),
	)

	res := s.Scan(context.Background(), target, HostOptions{Ports: []int{161}, SNMP: true})
	assert.Equal(t, []int{161}, res.OpenPorts)
	assert.Equal(t, "snmp", res.Services[161])

	res = s.Scan(context.Background(), target, HostOptions{Ports: []int{161}})
	assert.Empty(t, res.OpenPorts)
}

// Closed high port excluded, fixture listener included with a banner-derived label.
func TestHostScannerLoopbackFixture(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_, _ = c.Write([]byte("SSH-2.0-fixture\r\n"))
			c.Close()
		}
	}()
	open := ln.Addr().(*net.TCPAddr).Port

	closedLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closed := closedLn.Addr().(*net.TCPAddr).Port
	require.NoError(t, closedLn.Close())

	s := newTestHostScanner(
		WithLivenessProber(liveness.NewTCPProber([]int{open})),
		WithPortProber(ports.NewTCPProber()),
		WithClassifier(services.NewClassifier(services.WithTLSSniff(false), services.WithTimeout(time.Second))),
	)

	res := s.Scan(context.Background(), netip.MustParseAddr("127.0.0.1"), HostOptions{
		Ports:        []int{open, closed},
		ProbeTimeout: time.Second,
	})
	assert.Equal(t, StatusOnline, res.Status)
	assert.Equal(t, []int{open}, res.OpenPorts)
	assert.Equal(t, "ssh", res.Services[open])
}

func TestCleanHostname(t *testing.T) {
	a := netip.MustParseAddr("192.168.1.1")
	assert.Equal(t, "router.lan", cleanHostname("router.lan.", a))
	assert.Empty(t, cleanHostname("192.168.1.1", a))
	assert.Empty(t, cleanHostname(" ", a))
}

func TestNoopResolver(t *testing.T) {
	assert.Empty(t, NoopResolver{}.LookupAddr(context.Background(), target))
}

func TestDNSResolverPTR(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc("3.2.1.10.in-addr.arpa.", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		m.Answer = append(m.Answer, &dns.PTR{
			Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 60},
			Ptr: "host-3.example.net.",
		})
		_ = w.WriteMsg(m)
	})

	var started sync.WaitGroup
	started.Add(1)
	server := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: started.Done}
	go func() { _ = server.ActivateAndServe() }()
	started.Wait()
	defer server.Shutdown()

	r := NewDNSResolver(pc.LocalAddr().String(), time.Second)
	r.fallback = false

	assert.Equal(t, "host-3.example.net", r.LookupAddr(context.Background(), target))
	// No record for this address and no system fallback.
	assert.Empty(t, r.LookupAddr(context.Background(), netip.MustParseAddr("10.9.9.9")))
}
