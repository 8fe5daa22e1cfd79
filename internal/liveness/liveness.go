// Package liveness answers one question about an address: does it respond,
// and how quickly. Several interchangeable probers are provided: the OS ping
// utility, raw ICMP echo, an nmap ping scan and an unprivileged TCP reachability check.
// Unreachable hosts are a normal negative outcome and never an error.
package liveness

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Result is the outcome of one liveness probe.
type Result struct {
	Alive   bool
	Latency time.Duration
	// MAC is set when the mechanism can observe the link-layer address.
	MAC string
}

// Prober performs a single timeout-bounded liveness check.
type Prober interface {
	Probe(ctx context.Context, addr netip.Addr, timeout time.Duration) Result
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, addr netip.Addr, timeout time.Duration) Result

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, addr netip.Addr, timeout time.Duration) Result {
	return f(ctx, addr, timeout)
}

// Method names accepted by New.
const (
	MethodExec = "exec"
	MethodICMP = "icmp"
	MethodNmap = "nmap"
	MethodTCP  = "tcp"
)

// Methods lists every supported probe mechanism.
var Methods = []string{MethodExec, MethodICMP, MethodNmap, MethodTCP}

// New returns the prober for the named method.
func New(method string) (Prober, error) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "", MethodExec:
		return NewExecProber(), nil
	case MethodICMP:
		return NewICMPProber(false), nil
	case "icmp-raw":
		return NewICMPProber(true), nil
	case MethodNmap:
		return NewNmapProber(), nil
	case MethodTCP:
		return NewTCPProber(nil), nil
	default:
		return nil, fmt.Errorf("unknown liveness method %q (want one of %s)", method, strings.Join(Methods, ", "))
	}
}

// withDeadline bounds ctx by timeout plus slack. A non-positive timeout
// falls back to one second so no probe can wait forever.
func withDeadline(ctx context.Context, timeout, slack time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = time.Second
	}
	return context.WithTimeout(ctx, timeout+slack)
}
