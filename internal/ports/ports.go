// Package ports implements TCP port probing, port specification parsing and
// the check-type keyed default port sets.
package ports

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	minPort = 1
	maxPort = 65535
)

// Prober tests whether a TCP port accepts connections.
type Prober interface {
	Probe(ctx context.Context, addr netip.Addr, port int, timeout time.Duration) bool
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, addr netip.Addr, port int, timeout time.Duration) bool

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, addr netip.Addr, port int, timeout time.Duration) bool {
	return f(ctx, addr, port, timeout)
}

// TCPProber performs full TCP connect probes.
type TCPProber struct {
	dialer net.Dialer
}

// NewTCPProber creates a connect prober.
func NewTCPProber() *TCPProber {
	return &TCPProber{}
}

// Probe attempts one bounded connection. Refused, filtered, timed out and
// cancelled connections all report false.
func (p *TCPProber) Probe(ctx context.Context, addr netip.Addr, port int, timeout time.Duration) bool {
	if !ValidPort(port) {
		return false
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := p.dialer.DialContext(ctx, "tcp", netip.AddrPortFrom(addr, uint16(port)).String())
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// ValidPort reports whether p is a usable TCP port number.
func ValidPort(p int) bool {
	return p >= minPort && p <= maxPort
}

// ParseSpec parses a port specification such as "22,80,8000-8010" into a
// sorted, deduplicated list.
func ParseSpec(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("empty port spec")
	}

	seen := make(map[int]struct{})
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(token, "-")
		start, err := parsePort(lo)
		if err != nil {
			return nil, err
		}
		end := start
		if isRange {
			if end, err = parsePort(hi); err != nil {
				return nil, err
			}
			if start > end {
				return nil, fmt.Errorf("range start greater than end: %s", token)
			}
		}
		for p := start; p <= end; p++ {
			seen[p] = struct{}{}
		}
	}

	if len(seen) == 0 {
		return nil, errors.New("port spec contains no ports")
	}

	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	slices.Sort(out)
	return out, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if !ValidPort(p) {
		return 0, fmt.Errorf("port %d out of range %d-%d", p, minPort, maxPort)
	}
	return p, nil
}

// Normalize validates, sorts and deduplicates an explicit port list.
func Normalize(list []int) ([]int, error) {
	out := make([]int, 0, len(list))
	for _, p := range list {
		if !ValidPort(p) {
			return nil, fmt.Errorf("port %d out of range %d-%d", p, minPort, maxPort)
		}
		out = append(out, p)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// FormatSpec renders ports back into a compact spec, collapsing runs.
func FormatSpec(list []int) string {
	var b strings.Builder
	for i := 0; i < len(list); {
		j := i
		for j+1 < len(list) && list[j+1] == list[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if j > i {
			fmt.Fprintf(&b, "%d-%d", list[i], list[j])
		} else {
			b.WriteString(strconv.Itoa(list[i]))
		}
		i = j + 1
	}
	return b.String()
}
