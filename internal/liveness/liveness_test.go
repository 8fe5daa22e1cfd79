package liveness

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/Ullaakut/nmap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var loopback = netip.MustParseAddr("127.0.0.1")

func TestNew(t *testing.T) {
	tests := []struct {
		method  string
		want    any
		wantErr bool
	}{
		{"", &ExecProber{}, false},
		{"exec", &ExecProber{}, false},
		{"ICMP", &ICMPProber{}, false},
		{"icmp-raw", &ICMPProber{}, false},
		{"nmap", &NmapProber{}, false},
		{"tcp", &TCPProber{}, false},
		{"carrier-pigeon", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			p, err := New(tt.method)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, p)
		})
	}
}

func TestExecProberArgs(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.1")

	linux := &ExecProber{goos: "linux"}
	assert.Equal(t, []string{"-c", "1", "-W", "1", "10.0.0.1"}, linux.args(addr, time.Second))
	assert.Equal(t, []string{"-c", "1", "-W", "2", "10.0.0.1"}, linux.args(addr, 1500*time.Millisecond))
	assert.Equal(t, []string{"-c", "1", "-W", "1", "10.0.0.1"}, linux.args(addr, 200*time.Millisecond))

	windows := &ExecProber{goos: "windows"}
	assert.Equal(t, []string{"-n", "1", "-w", "750", "10.0.0.1"}, windows.args(addr, 750*time.Millisecond))
}

func TestExecProberProbe(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.1")

	t.Run("reply parses rtt", func(t *testing.T) {
		p := &ExecProber{goos: "linux", run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			assert.Equal(t, "ping", name)
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return []byte("64 bytes from 10.0.0.1: icmp_seq=1 ttl=64 time=12.5 ms"), nil
		}}

		res := p.Probe(context.Background(), addr, time.Second)
		assert.True(t, res.Alive)
		assert.Equal(t, 12500*time.Microsecond, res.Latency)
	})

	t.Run("windows sub-millisecond reply", func(t *testing.T) {
		p := &ExecProber{goos: "windows", run: func(context.Context, string, ...string) ([]byte, error) {
			return []byte("Reply from 10.0.0.1: bytes=32 time<1ms TTL=128"), nil
		}}

		res := p.Probe(context.Background(), addr, time.Second)
		assert.True(t, res.Alive)
		assert.Equal(t, time.Millisecond, res.Latency)
	})

	t.Run("non-zero exit is offline", func(t *testing.T) {
		p := &ExecProber{goos: "linux", run: func(context.Context, string, ...string) ([]byte, error) {
			return []byte("1 packets transmitted, 0 received"), errors.New("exit status 1")
		}}

		res := p.Probe(context.Background(), addr, time.Second)
		assert.False(t, res.Alive)
		assert.Zero(t, res.Latency)
	})

	t.Run("process bounded by timeout", func(t *testing.T) {
		p := &ExecProber{goos: "linux", run: func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}

		start := time.Now()
		res := p.Probe(context.Background(), addr, 10*time.Millisecond)
		assert.False(t, res.Alive)
		assert.Less(t, time.Since(start), 3*time.Second)
	})
}

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	open := ln.Addr().(*net.TCPAddr).Port

	t.Run("accepting port means alive", func(t *testing.T) {
		res := NewTCPProber([]int{open}).Probe(context.Background(), loopback, time.Second)
		assert.True(t, res.Alive)
	})

	t.Run("refused port still means alive", func(t *testing.T) {
		closed, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := closed.Addr().(*net.TCPAddr).Port
		require.NoError(t, closed.Close())

		res := NewTCPProber([]int{port}).Probe(context.Background(), loopback, time.Second)
		assert.True(t, res.Alive)
	})

	t.Run("cancelled context is offline", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res := NewTCPProber([]int{open}).Probe(ctx, loopback, time.Second)
		assert.False(t, res.Alive)
	})
}

func TestFromNmapHosts(t *testing.T) {
	hosts := []nmap.Host{
		{Status: nmap.Status{State: "down"}},
		{
			Status: nmap.Status{State: "up"},
			Times:  nmap.Times{SRTT: "1500"},
			Addresses: []nmap.Address{
				{Addr: "192.168.1.20", AddrType: "ipv4"},
				{Addr: "AA:BB:CC:DD:EE:FF", AddrType: "mac"},
			},
		},
	}

	res := fromNmapHosts(hosts, time.Second)
	assert.True(t, res.Alive)
	assert.Equal(t, 1500*time.Microsecond, res.Latency)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", res.MAC)

	assert.False(t, fromNmapHosts(hosts[:1], time.Second).Alive)
}

func TestNmapOptions(t *testing.T) {
	p := &NmapProber{binary: "/opt/nmap/bin/nmap"}
	assert.Len(t, p.options(loopback, time.Second), 6)
	assert.Len(t, NewNmapProber().options(loopback, 5*time.Second), 5)
}

func TestSamePeer(t *testing.T) {
	assert.True(t, samePeer(&net.IPAddr{IP: net.ParseIP("127.0.0.1")}, loopback))
	assert.True(t, samePeer(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, loopback))
	assert.False(t, samePeer(&net.UDPAddr{IP: net.ParseIP("127.0.0.2")}, loopback))
	assert.False(t, samePeer(nil, loopback))
}

func TestProberFunc(t *testing.T) {
	var p Prober = ProberFunc(func(context.Context, netip.Addr, time.Duration) Result {
		return Result{Alive: true, Latency: time.Millisecond}
	})
	assert.True(t, p.Probe(context.Background(), loopback, time.Second).Alive)
}
