package liveness

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"syscall"
	"time"
)

// DefaultTCPPorts are tried by TCPProber when none are configured.
var DefaultTCPPorts = []int{80, 443, 22, 445, 3389, 7}

// TCPProber infers reachability from TCP: a completed handshake or an
// active refusal (RST) both prove the host is up. It needs no privileges.
type TCPProber struct {
	ports  []int
	dialer net.Dialer
}

// NewTCPProber creates a prober trying ports in order. A nil slice selects DefaultTCPPorts.
func NewTCPProber(ports []int) *TCPProber {
	if len(ports) == 0 {
		ports = DefaultTCPPorts
	}
	return &TCPProber{ports: ports}
}

// Probe dials each port until one answers or the timeout is spent.
func (p *TCPProber) Probe(ctx context.Context, addr netip.Addr, timeout time.Duration) Result {
	ctx, cancel := withDeadline(ctx, timeout, 0)
	defer cancel()

	start := time.Now()
	for _, port := range p.ports {
		if ctx.Err() != nil {
			return Result{}
		}
		conn, err := p.dialer.DialContext(ctx, "tcp", netip.AddrPortFrom(addr, uint16(port)).String())
		if err == nil {
			_ = conn.Close()
			return Result{Alive: true, Latency: time.Since(start)}
		}
		if errors.Is(err, syscall.ECONNREFUSED) {
			return Result{Alive: true, Latency: time.Since(start)}
		}
	}
	return Result{}
}
