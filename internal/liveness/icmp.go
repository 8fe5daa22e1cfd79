package liveness

import (
	"context"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	protocolICMP = 1
	readBuffer   = 1500
)

var echoSeq atomic.Uint32

// ICMPProber sends an ICMP echo request through golang.org/x/net/icmp.
// Privileged mode uses a raw socket; otherwise an unprivileged datagram
// socket is used (Linux needs net.ipv4.ping_group_range to allow it).
type ICMPProber struct {
	privileged bool
	id         int
}

// NewICMPProber creates an ICMP echo prober.
func NewICMPProber(privileged bool) *ICMPProber {
	return &ICMPProber{privileged: privileged, id: os.Getpid() & 0xffff}
}

// Probe sends one echo and waits for the matching reply until the deadline.
func (p *ICMPProber) Probe(ctx context.Context, addr netip.Addr, timeout time.Duration) Result {
	ctx, cancel := withDeadline(ctx, timeout, 0)
	defer cancel()

	network, listen := "udp4", "0.0.0.0"
	if p.privileged {
		network = "ip4:icmp"
	}
	conn, err := icmp.ListenPacket(network, listen)
	if err != nil {
		return Result{}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return Result{}
		}
	}
	// Unblock ReadFrom if the caller cancels before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	seq := int(echoSeq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: []byte("ipsweep-liveness")},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return Result{}
	}

	var dst net.Addr = &net.IPAddr{IP: addr.AsSlice()}
	if !p.privileged {
		dst = &net.UDPAddr{IP: addr.AsSlice()}
	}

	start := time.Now()
	if _, err := conn.WriteTo(wire, dst); err != nil {
		return Result{}
	}

	buf := make([]byte, readBuffer)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			return Result{}
		}
		if !samePeer(peer, addr) {
			continue
		}
		reply, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil {
			continue
		}
		switch reply.Type {
		case ipv4.ICMPTypeEchoReply:
			echo, ok := reply.Body.(*icmp.Echo)
			// The kernel rewrites the ID on unprivileged sockets, so only
			// the sequence number is reliable there.
			if !ok || echo.Seq != seq || (p.privileged && echo.ID != p.id) {
				continue
			}
			return Result{Alive: true, Latency: time.Since(start)}
		case ipv4.ICMPTypeDestinationUnreachable:
			return Result{}
		}
	}
}

func samePeer(peer net.Addr, want netip.Addr) bool {
	var ip net.IP
	switch a := peer.(type) {
	case *net.IPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	default:
		return false
	}
	got, ok := netip.AddrFromSlice(ip)
	return ok && got.Unmap() == want
}
