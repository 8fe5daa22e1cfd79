package liveness

import (
	"context"
	"net/netip"
	"strconv"
	"time"

	"github.com/Ullaakut/nmap/v3"
)

// nmapSlack covers nmap's own start-up cost on top of the probe timeout.
const nmapSlack = 5 * time.Second

// NmapProber runs an nmap ping scan (-sn) against a single address. On a
// local segment nmap also reports the MAC address.
type NmapProber struct {
	binary string
}

// NewNmapProber creates a prober that uses nmap from PATH.
func NewNmapProber() *NmapProber {
	return &NmapProber{}
}

func (p *NmapProber) options(addr netip.Addr, timeout time.Duration) []nmap.Option {
	opts := []nmap.Option{
		nmap.WithTargets(addr.String()),
		nmap.WithPingScan(),
		nmap.WithMaxRetries(0),
		nmap.WithHostTimeout(timeout),
	}
	if timeout <= 2*time.Second {
		opts = append(opts, nmap.WithTimingTemplate(nmap.TimingAggressive))
	} else {
		opts = append(opts, nmap.WithTimingTemplate(nmap.TimingNormal))
	}
	if p.binary != "" {
		opts = append(opts, nmap.WithBinaryPath(p.binary))
	}
	return opts
}

// Probe reports the host alive when nmap marks it "up".
func (p *NmapProber) Probe(ctx context.Context, addr netip.Addr, timeout time.Duration) Result {
	ctx, cancel := withDeadline(ctx, timeout, nmapSlack)
	defer cancel()

	scanner, err := nmap.NewScanner(ctx, p.options(addr, timeout)...)
	if err != nil {
		return Result{}
	}

	start := time.Now()
	run, _, err := scanner.Run()
	elapsed := time.Since(start)
	if err != nil || run == nil {
		return Result{}
	}
	return fromNmapHosts(run.Hosts, elapsed)
}

func fromNmapHosts(hosts []nmap.Host, elapsed time.Duration) Result {
	for i := range hosts {
		host := &hosts[i]
		if host.Status.State != "up" {
			continue
		}

		res := Result{Alive: true, Latency: elapsed}
		// srtt is reported in microseconds.
		if us, err := strconv.ParseInt(host.Times.SRTT, 10, 64); err == nil && us > 0 {
			res.Latency = time.Duration(us) * time.Microsecond
		}
		for _, a := range host.Addresses {
			if a.AddrType == "mac" {
				res.MAC = a.Addr
				break
			}
		}
		return res
	}
	return Result{}
}
