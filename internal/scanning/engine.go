package scanning

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/logging"
	"github.com/anstrom/ipsweep/internal/ranges"
)

// RunConfig is the input of one engine run.
type RunConfig struct {
	Ranges        []string
	Host          HostOptions
	MaxConcurrent int
}

// Result is the output of one engine run. Hosts are sorted by address.
type Result struct {
	Hosts    []HostResult     `json:"hosts"`
	Stats    ScanStatistics   `json:"stats"`
	Warnings []ranges.Warning `json:"warnings,omitempty"`
}

// Recorder receives per-host instrumentation.
type Recorder interface {
	HostScanStarted()
	HostScanFinished(status string, elapsed time.Duration)
}

// Engine runs the Host Scanner across a resolved target list under a fixed
// concurrency ceiling and reports progress to subscribed handlers. An Engine
// keeps no results between runs.
type Engine struct {
	scanner  Scanner
	resolver *ranges.Resolver
	logger   *logging.Logger
	recorder Recorder
	now      func() time.Time

	staleAfter time.Duration

	mu       sync.Mutex
	handlers []ProgressHandler

	phase atomic.Int32
	run   sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithResolver sets the range resolver.
func WithResolver(r *ranges.Resolver) EngineOption {
	return func(e *Engine) { e.resolver = r }
}

// WithRecorder attaches instrumentation.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithStaleAfter sets how long a host scan may hold its slot before it is
// logged as stale. Zero keeps DefaultStaleAfter.
func WithStaleAfter(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.staleAfter = d
		}
	}
}

// NewEngine creates an engine around scanner.
func NewEngine(scanner Scanner, opts ...EngineOption) *Engine {
	e := &Engine{
		scanner:    scanner,
		resolver:   &ranges.Resolver{},
		logger:     logging.Default(),
		now:        time.Now,
		staleAfter: DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("engine")
	return e
}

// Subscribe registers h for progress snapshots. Handlers are called from the
// run's collector goroutine, one snapshot per completed host, in completion
// order.
func (e *Engine) Subscribe(h ProgressHandler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	e.handlers = append(e.handlers, h)
	e.mu.Unlock()
}

// Phase returns the current phase of the engine.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

// Run resolves cfg.Ranges and scans every address. An empty target set is an
// error. When ctx is cancelled, dispatch stops, in-flight hosts finish, and
// the partial result is returned together with the context error.
func (e *Engine) Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	e.run.Lock()
	defer e.run.Unlock()

	e.phase.Store(int32(PhaseResolving))
	resolution := e.resolver.Resolve(cfg.Ranges)
	for _, w := range resolution.Warnings {
		e.logger.Warn("Skipping range", "descriptor", w.Descriptor, "reason", w.Reason)
	}

	result := &Result{Hosts: []HostResult{}, Warnings: resolution.Warnings}
	targets := resolution.Addresses
	if len(targets) == 0 {
		e.phase.Store(int32(PhaseFinished))
		return result, errors.ErrNoTargets(len(cfg.Ranges))
	}

	e.phase.Store(int32(PhaseScanning))
	stats := ScanStatistics{Total: len(targets), StartTime: e.now()}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	limiter := NewFixedResourceManager(maxConcurrent)
	defer limiter.Close()

	e.logger.Info("Scan started", "targets", stats.Total, "max_concurrent", maxConcurrent,
		"liveness_only", cfg.Host.LivenessOnly, "ports", len(cfg.Host.Ports))

	out := make(chan HostResult, maxConcurrent)
	go e.dispatch(ctx, targets, cfg.Host, limiter, out)

	stopWatch := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		e.watchStale(limiter, stopWatch)
	}()

	for res := range out {
		stats.record(&res)
		result.Hosts = append(result.Hosts, res)
		e.notify(Snapshot{
			Current: stats.Scanned,
			Total:   stats.Total,
			Percent: stats.Percent(),
			Stats:   stats,
			Result:  res,
		})
	}

	close(stopWatch)
	<-watchDone
	e.logger.Debug("Host slots released", "limiter", limiter.Stats())

	sort.Slice(result.Hosts, func(i, j int) bool {
		return result.Hosts[i].Address.Less(result.Hosts[j].Address)
	})
	end := e.now()
	stats.EndTime = &end
	result.Stats = stats
	e.phase.Store(int32(PhaseFinished))

	if stats.Scanned < stats.Total {
		err := ctx.Err()
		if err == nil {
			err = fmt.Errorf("scan stopped after %d of %d hosts", stats.Scanned, stats.Total)
		}
		e.logger.Warn("Scan interrupted", "scanned", stats.Scanned, "total", stats.Total)
		return result, err
	}

	e.logger.Info("Scan finished", "online", stats.Online, "offline", stats.Offline,
		"duration", stats.Duration().String(), "peak_concurrency", limiter.Peak())
	return result, nil
}

// watchStale logs every host that holds its slot past the stale threshold,
// once per host, until stop is closed.
func (e *Engine) watchStale(limiter *FixedResourceManager, stop <-chan struct{}) {
	ticker := time.NewTicker(max(e.staleAfter/2, time.Millisecond))
	defer ticker.Stop()

	reported := make(map[netip.Addr]bool)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, addr := range limiter.Stale(e.staleAfter) {
				if reported[addr] {
					continue
				}
				reported[addr] = true
				e.logger.Warn("Host scan is taking unusually long", "target", addr.String(),
					"threshold", e.staleAfter.String(), "in_flight", limiter.InFlight())
			}
		}
	}
}

// dispatch feeds targets to the host scanner, holding a limiter slot per
// host, and closes out once every dispatched host has reported.
func (e *Engine) dispatch(ctx context.Context, targets []netip.Addr, opts HostOptions,
	limiter *FixedResourceManager, out chan<- HostResult) {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		close(out)
	}()

	for _, addr := range targets {
		if ctx.Err() != nil {
			return
		}
		if err := limiter.Acquire(ctx, addr); err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := e.scanOne(ctx, addr, opts)
			limiter.Release(addr)
			out <- res
		}()
	}
}

// scanOne runs the host scanner for addr, turning a panic into an offline
// result so one faulty host cannot end the run.
func (e *Engine) scanOne(ctx context.Context, addr netip.Addr, opts HostOptions) (res HostResult) {
	start := e.now()
	if e.recorder != nil {
		e.recorder.HostScanStarted()
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorScan("Host scan panicked", addr.String(),
				errors.WrapScanError(errors.CodeScanFailed, "host scan panicked", fmt.Errorf("%v", r)))
			res = offlineResult(addr, e.now())
		}
		if e.recorder != nil {
			e.recorder.HostScanFinished(string(res.Status), e.now().Sub(start))
		}
	}()

	res = e.scanner.Scan(ctx, addr, opts)
	res.Address = addr
	if res.Status == "" {
		res.Status = StatusOffline
	}
	if res.OpenPorts == nil {
		res.OpenPorts = []int{}
	}
	if res.Services == nil {
		res.Services = map[int]string{}
	}
	return res
}

func (e *Engine) notify(s Snapshot) {
	e.mu.Lock()
	handlers := make([]ProgressHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.Unlock()

	for _, h := range handlers {
		e.deliver(h, s)
	}
}

func (e *Engine) deliver(h ProgressHandler, s Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Progress handler panicked", "panic", fmt.Sprint(r))
		}
	}()
	h.OnProgress(s)
}
