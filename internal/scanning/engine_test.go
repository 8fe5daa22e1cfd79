package scanning

import (
	"bytes"
	"context"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/logging"
)

// scannerFunc adapts a function to Scanner.
type scannerFunc func(ctx context.Context, addr netip.Addr, opts HostOptions) HostResult

func (f scannerFunc) Scan(ctx context.Context, addr netip.Addr, opts HostOptions) HostResult {
	return f(ctx, addr, opts)
}

func onlineScanner() Scanner {
	return scannerFunc(func(_ context.Context, addr netip.Addr, _ HostOptions) HostResult {
		ms := 1.0
		return HostResult{Address: addr, Status: StatusOnline, LatencyMS: &ms, DiscoveredAt: time.Now()}
	})
}

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *snapshotRecorder) OnProgress(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func newTestEngine(s Scanner) *Engine {
	return NewEngine(s, WithLogger(logging.NewDiscard()))
}

func TestEngineRun(t *testing.T) {
	e := newTestEngine(onlineScanner())
	assert.Equal(t, PhaseNotStarted, e.Phase())

	rec := &snapshotRecorder{}
	e.Subscribe(rec)

	res, err := e.Run(context.Background(), RunConfig{Ranges: []string{"10.0.0.0/29", "bogus"}, MaxConcurrent: 3})
	require.NoError(t, err)
	assert.Equal(t, PhaseFinished, e.Phase())

	assert.Len(t, res.Hosts, 6)
	assert.Len(t, res.Warnings, 1)
	assert.Equal(t, 6, res.Stats.Total)
	assert.Equal(t, 6, res.Stats.Scanned)
	assert.Equal(t, 6, res.Stats.Online)
	assert.Zero(t, res.Stats.Offline)
	require.NotNil(t, res.Stats.EndTime)

	require.Len(t, rec.snaps, 6)
	last := rec.snaps[len(rec.snaps)-1]
	assert.Equal(t, 6, last.Current)
	assert.Equal(t, 100.0, last.Percent)
}

func TestEngineNoTargets(t *testing.T) {
	e := newTestEngine(onlineScanner())
	res, err := e.Run(context.Background(), RunConfig{Ranges: []string{"0.0.0.0/31"}})

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNoTargets))
	require.NotNil(t, res)
	assert.Empty(t, res.Hosts)
	assert.Len(t, res.Warnings, 1)
	assert.Equal(t, PhaseFinished, e.Phase())
}

func TestEngineConcurrencyBound(t *testing.T) {
	const limit = 5
	var inFlight, peak atomic.Int32

	e := newTestEngine(scannerFunc(func(_ context.Context, addr netip.Addr, _ HostOptions) HostResult {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(3 * time.Millisecond)
		inFlight.Add(-1)
		return HostResult{Address: addr, Status: StatusOffline}
	}))

	res, err := e.Run(context.Background(), RunConfig{Ranges: []string{"10.0.0.0/26"}, MaxConcurrent: limit})
	require.NoError(t, err)
	assert.Len(t, res.Hosts, 62)
	assert.LessOrEqual(t, peak.Load(), int32(limit))
}

func TestEngineLogsStaleHosts(t *testing.T) {
	var buf syncBuffer
	logger := logging.NewWithWriter(logging.Config{Level: logging.LevelDebug, Format: logging.FormatJSON}, &buf)
	slow := netip.MustParseAddr("10.0.0.2")
	e := NewEngine(scannerFunc(func(_ context.Context, addr netip.Addr, _ HostOptions) HostResult {
		if addr == slow {
			time.Sleep(120 * time.Millisecond)
		}
		return HostResult{Address: addr, Status: StatusOffline}
	}), WithLogger(logger), WithStaleAfter(20*time.Millisecond))

	res, err := e.Run(context.Background(), RunConfig{Ranges: []string{"10.0.0.1-3"}, MaxConcurrent: 3})
	require.NoError(t, err)
	assert.Len(t, res.Hosts, 3)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Host scan is taking unusually long"), out)
	assert.Contains(t, out, `"target":"10.0.0.2"`)
	assert.NotContains(t, out, `"target":"10.0.0.1"`)
	assert.Contains(t, out, `"peak_concurrency"`)
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestEngineMonotonicProgress(t *testing.T) {
	e := newTestEngine(scannerFunc(func(_ context.Context, addr netip.Addr, _ HostOptions) HostResult {
		// Reverse the natural completion order a little.
		time.Sleep(time.Duration(255-int(addr.As4()[3])) * 20 * time.Microsecond)
		return HostResult{Address: addr, Status: StatusOffline}
	}))
	rec := &snapshotRecorder{}
	e.Subscribe(rec)

	_, err := e.Run(context.Background(), RunConfig{Ranges: []string{"10.0.0.1-40"}, MaxConcurrent: 8})
	require.NoError(t, err)

	require.Len(t, rec.snaps, 40)
	complete := 0
	for i, s := range rec.snaps {
		assert.Equal(t, i+1, s.Current)
		assert.Equal(t, 40, s.Total)
		assert.LessOrEqual(t, s.Stats.Scanned, s.Total)
		if i > 0 {
			assert.GreaterOrEqual(t, s.Percent, rec.snaps[i-1].Percent)
		}
		if s.Current == s.Total {
			complete++
		}
	}
	assert.Equal(t, 1, complete)
}

func TestEngineOrdering(t *testing.T) {
	e := newTestEngine(scannerFunc(func(_ context.Context, addr netip.Addr, _ HostOptions) HostResult {
		// Lower addresses finish last.
		time.Sleep(time.Duration(20-int(addr.As4()[3])) * time.Millisecond)
		return HostResult{Address: addr, Status: StatusOnline}
	}))

	res, err := e.Run(context.Background(), RunConfig{
		Ranges:        []string{"10.0.0.9", "10.0.0.10", "10.0.0.2", "10.0.0.1-3"},
		MaxConcurrent: 10,
	})
	require.NoError(t, err)

	got := make([]string, len(res.Hosts))
	for i, h := range res.Hosts {
		got[i] = h.Address.String()
	}
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.9", "10.0.0.10"}, got)
}

func TestEngineFaultIsolation(t *testing.T) {
	faulty := netip.MustParseAddr("10.0.0.3")
	e := newTestEngine(scannerFunc(func(_ context.Context, addr netip.Addr, _ HostOptions) HostResult {
		if addr == faulty {
			panic("probe exploded")
		}
		return HostResult{Address: addr, Status: StatusOnline}
	}))

	res, err := e.Run(context.Background(), RunConfig{Ranges: []string{"10.0.0.1-5"}})
	require.NoError(t, err)
	require.Len(t, res.Hosts, 5)

	for _, h := range res.Hosts {
		if h.Address == faulty {
			assert.Equal(t, StatusOffline, h.Status)
			assert.NotNil(t, h.OpenPorts)
		} else {
			assert.Equal(t, StatusOnline, h.Status)
		}
	}
	assert.Equal(t, 4, res.Stats.Online)
	assert.Equal(t, 1, res.Stats.Offline)
}

func TestEngineHandlerPanicDoesNotStopRun(t *testing.T) {
	e := newTestEngine(onlineScanner())
	e.Subscribe(ProgressFunc(func(Snapshot) { panic("bad handler") }))
	rec := &snapshotRecorder{}
	e.Subscribe(rec)

	res, err := e.Run(context.Background(), RunConfig{Ranges: []string{"10.0.0.1-4"}})
	require.NoError(t, err)
	assert.Len(t, res.Hosts, 4)
	assert.Len(t, rec.snaps, 4)
}

func TestEngineCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started atomic.Int32
	e := newTestEngine(scannerFunc(func(ctx context.Context, addr netip.Addr, _ HostOptions) HostResult {
		if started.Add(1) == 3 {
			cancel()
		}
		time.Sleep(time.Millisecond)
		return HostResult{Address: addr, Status: StatusOffline}
	}))

	res, err := e.Run(ctx, RunConfig{Ranges: []string{"10.0.0.0/24"}, MaxConcurrent: 2})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Less(t, res.Stats.Scanned, res.Stats.Total)
	assert.Len(t, res.Hosts, res.Stats.Scanned)
	assert.Equal(t, PhaseFinished, e.Phase())
}

func TestEngineRunsAreIndependent(t *testing.T) {
	e := newTestEngine(onlineScanner())
	cfg := RunConfig{Ranges: []string{"10.0.0.1-3"}}

	first, err := e.Run(context.Background(), cfg)
	require.NoError(t, err)
	second, err := e.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Len(t, second.Hosts, 3)
	for i := range first.Hosts {
		assert.Equal(t, first.Hosts[i].Address, second.Hosts[i].Address)
	}
}

type countingRecorder struct {
	started  atomic.Int32
	finished atomic.Int32
}

func (c *countingRecorder) HostScanStarted() { c.started.Add(1) }

func (c *countingRecorder) HostScanFinished(string, time.Duration) { c.finished.Add(1) }

func TestEngineRecorder(t *testing.T) {
	rec := &countingRecorder{}
	e := NewEngine(onlineScanner(), WithLogger(logging.NewDiscard()), WithRecorder(rec))

	_, err := e.Run(context.Background(), RunConfig{Ranges: []string{"10.0.0.1-6"}})
	require.NoError(t, err)
	assert.Equal(t, int32(6), rec.started.Load())
	assert.Equal(t, int32(6), rec.finished.Load())
}

func TestScanStatisticsPercent(t *testing.T) {
	assert.Equal(t, 33.33, ScanStatistics{Total: 3, Scanned: 1}.Percent())
	assert.Equal(t, 0.0, ScanStatistics{}.Percent())
	assert.Equal(t, 100.0, ScanStatistics{Total: 7, Scanned: 7}.Percent())
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "resolving", PhaseResolving.String())
	assert.Equal(t, "unknown", Phase(42).String())
}
