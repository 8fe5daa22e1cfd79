// Package jobs runs scan engine executions as asynchronous, cancellable jobs.
// A Manager owns the registry of active jobs, drives each job through its
// lifecycle on a dedicated goroutine and writes status, progress and results
// to a Store.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/logging"
	"github.com/anstrom/ipsweep/internal/scanning"
)

const (
	// DefaultRecentJobs is how many terminal statuses stay cached in memory.
	DefaultRecentJobs = 256
	// DefaultSaveTimeout bounds the final results write.
	DefaultSaveTimeout = 30 * time.Second
	// minProgressStep is the progress delta that triggers a status write.
	minProgressStep = 1.0
)

// Runner is the part of the scan engine the manager drives.
type Runner interface {
	Subscribe(h scanning.ProgressHandler)
	Run(ctx context.Context, cfg scanning.RunConfig) (*scanning.Result, error)
}

// EngineFactory builds a fresh Runner for each job.
type EngineFactory func() Runner

// NewEngineFactory returns a factory building scanning engines around scanner.
func NewEngineFactory(scanner scanning.Scanner, opts ...scanning.EngineOption) EngineFactory {
	return func() Runner {
		return scanning.NewEngine(scanner, opts...)
	}
}

// Manager owns the lifecycle of scan jobs.
type Manager struct {
	store       Store
	loader      StatusLoader
	newEngine   EngineFactory
	registry    *Registry
	recent      *recentJobs
	listeners   []Listener
	logger      *logging.Logger
	saveTimeout time.Duration
	recentLimit int
	now         func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithListener adds a job event listener.
func WithListener(l Listener) Option {
	return func(m *Manager) {
		if l != nil {
			m.listeners = append(m.listeners, l)
		}
	}
}

// WithSaveTimeout bounds the final results write.
func WithSaveTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.saveTimeout = d
		}
	}
}

// WithRecentLimit sets how many finished jobs are cached for GetStatus.
func WithRecentLimit(n int) Option {
	return func(m *Manager) { m.recentLimit = n }
}

// NewManager creates a manager writing to store and building engines with
// factory. If store also implements StatusLoader it is used for status
// queries about jobs no longer in memory.
func NewManager(store Store, factory EngineFactory, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		newEngine:   factory,
		registry:    NewRegistry(),
		logger:      logging.Default(),
		saveTimeout: DefaultSaveTimeout,
		recentLimit: DefaultRecentJobs,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if loader, ok := store.(StatusLoader); ok {
		m.loader = loader
	}
	m.recent = newRecentJobs(m.recentLimit)
	m.logger = m.logger.WithComponent("jobs")
	m.baseCtx, m.stop = context.WithCancel(context.Background())
	return m
}

// Submit validates params, registers a pending job and starts it. It returns
// as soon as the job's worker has been launched.
func (m *Manager) Submit(ctx context.Context, params Params) (string, error) {
	if m.closed.Load() {
		return "", errors.NewJobError(errors.CodeManagerShutdown, "manager is shut down", params.JobID)
	}
	if err := params.Validate(); err != nil {
		return "", err
	}

	params = params.clone()
	if params.JobID == "" {
		params.JobID = uuid.NewString()
	}
	job := newJob(params.JobID, params, m.now())
	jobCtx, cancel := context.WithCancel(m.baseCtx)
	job.cancel = cancel

	if err := m.registry.Register(job); err != nil {
		cancel()
		return "", err
	}

	m.persistStatus(context.WithoutCancel(ctx), job)
	m.publish(EventState, job)
	m.logger.InfoJob("Job submitted", job.id, "ranges", params.Ranges, "liveness_only", job.run.Host.LivenessOnly,
		"ports", len(job.run.Host.Ports), "max_concurrent", job.run.MaxConcurrent)

	m.wg.Add(1)
	go m.execute(jobCtx, job)
	return job.id, nil
}

// GetStatus returns the current status of a job. Jobs that already left the
// registry are answered from the recent cache and then from the store.
func (m *Manager) GetStatus(ctx context.Context, id string) (Status, error) {
	if job, ok := m.registry.Lookup(id); ok {
		return job.Status(), nil
	}
	if st, ok := m.recent.get(id); ok {
		return st, nil
	}
	if m.loader != nil {
		st, err := m.loader.LoadJob(ctx, id)
		if err == nil && st != nil {
			return *st, nil
		}
		if err != nil && !errors.IsNotFound(err) {
			return Status{}, err
		}
	}
	return Status{}, errors.ErrJobNotFound(id)
}

// Cancel stops an active job. It returns false when id is not active.
// Host scans already dispatched wind down in the background and their
// results are discarded.
func (m *Manager) Cancel(ctx context.Context, id string) bool {
	job, ok := m.registry.Lookup(id)
	if !ok {
		return false
	}
	return m.cancelJob(context.WithoutCancel(ctx), job, "")
}

// ListActive returns the ids of jobs currently executing.
func (m *Manager) ListActive() []string {
	return m.registry.IDs()
}

// Wait blocks until the job's worker exits or ctx is done. Unknown or
// already finished jobs return immediately.
func (m *Manager) Wait(ctx context.Context, id string) error {
	job, ok := m.registry.Lookup(id)
	if !ok {
		return nil
	}
	select {
	case <-job.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every active job and waits for their workers to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, id := range m.registry.IDs() {
		if job, ok := m.registry.Lookup(id); ok {
			m.cancelJob(context.WithoutCancel(ctx), job, "manager shutdown")
		}
	}
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("Job manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cancelJob moves job to cancelled. The transition is taken under persistMu
// so it cannot interleave with the worker committing host records.
func (m *Manager) cancelJob(ctx context.Context, job *Job, reason string) bool {
	job.persistMu.Lock()
	err := job.cancelWith(reason, m.now())
	job.persistMu.Unlock()
	if err != nil {
		return false
	}
	job.cancel()
	m.retire(ctx, job)
	m.logger.InfoJob("Job cancelled", job.id, "reason", reason)
	return true
}

// execute is the worker goroutine of one job.
func (m *Manager) execute(ctx context.Context, job *Job) {
	defer m.wg.Done()
	defer close(job.done)
	defer job.cancel()

	log := m.logger.WithJobID(job.id)
	persistCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Job worker panicked", "panic", fmt.Sprint(r))
			m.finish(persistCtx, job, func(at time.Time) error {
				return job.fail(fmt.Sprintf("internal error: %v", r), at)
			})
		}
	}()

	if err := job.transition(StateRunning, m.now()); err != nil {
		return
	}
	m.persistStatus(persistCtx, job)
	m.publish(EventState, job)

	engine := m.newEngine()
	engine.Subscribe(&progressTracker{manager: m, job: job, ctx: persistCtx, log: log})

	res, err := engine.Run(ctx, job.run)
	if err != nil {
		if !job.record(res, false) {
			return
		}
		if ctx.Err() != nil {
			m.finish(persistCtx, job, func(at time.Time) error {
				return job.cancelWith("manager shutdown", at)
			})
			return
		}
		log.ErrorJob("Job failed", job.id, err)
		m.finish(persistCtx, job, func(at time.Time) error { return job.fail(err.Error(), at) })
		return
	}

	if !job.record(res, true) {
		return
	}
	m.persistStatus(persistCtx, job)
	m.publish(EventProgress, job)

	// The save runs on the job context: cancelling the job aborts it.
	saveCtx, cancel := context.WithTimeout(ctx, m.saveTimeout)
	defer cancel()
	saveErr := m.store.SaveJobResults(saveCtx, job.id, res.Hosts, res.Stats)

	summary, running := m.commit(saveCtx, job, res, saveErr)
	if !running {
		if saveErr == nil {
			m.discardResults(persistCtx, job, res.Stats)
		}
		return
	}
	if saveErr != nil {
		log.ErrorJob("Saving results failed", job.id,
			errors.WrapJobError(errors.CodeJobFailed, "saving results", job.id, saveErr))
		m.finish(persistCtx, job, func(at time.Time) error {
			return job.fail("saving results: "+saveErr.Error(), at)
		})
		return
	}
	m.retire(persistCtx, job)
	log.InfoJob("Job completed", job.id, "online", summary.Online, "offline", summary.Offline,
		"saved", summary.SavedToDB, "duration", summary.Duration)
}

// commit upserts the online hosts and completes job while holding
// persistMu, so a concurrent Cancel either lands first and nothing is
// written, or finds the job completed. It reports false when the job had
// already left the running state. A failed results save commits nothing.
func (m *Manager) commit(ctx context.Context, job *Job, res *scanning.Result, saveErr error) (*Summary, bool) {
	job.persistMu.Lock()
	defer job.persistMu.Unlock()

	if job.State() != StateRunning {
		return nil, false
	}
	if saveErr != nil {
		return nil, true
	}
	saved := m.upsertHosts(ctx, job, res.Hosts)

	duration := res.Stats.Duration()
	summary := &Summary{
		TotalScanned:    res.Stats.Scanned,
		Online:          res.Stats.Online,
		Offline:         res.Stats.Offline,
		SavedToDB:       saved,
		DurationSeconds: duration.Seconds(),
		Duration:        duration.Round(time.Millisecond).String(),
	}
	if err := job.complete(summary, m.now()); err != nil {
		return nil, false
	}
	return summary, true
}

// discardResults clears results a store accepted after the job was
// cancelled. Saving an empty set replaces whatever was written.
func (m *Manager) discardResults(ctx context.Context, job *Job, stats scanning.ScanStatistics) {
	if err := m.store.SaveJobResults(ctx, job.id, nil, stats); err != nil {
		m.logger.ErrorJob("Discarding results of cancelled job failed", job.id, err)
	}
}

// finish applies a terminal transition and retires the job if it took effect.
func (m *Manager) finish(ctx context.Context, job *Job, apply func(at time.Time) error) bool {
	if err := apply(m.now()); err != nil {
		return false
	}
	m.retire(ctx, job)
	return true
}

// retire moves a terminal job from the registry to the recent cache, then
// persists and announces its final status. The cache is filled first so
// GetStatus never falls through to a store that still holds an older state.
func (m *Manager) retire(ctx context.Context, job *Job) {
	m.recent.put(job.Status())
	m.registry.Remove(job)
	m.persistStatus(ctx, job)
	m.publish(EventState, job)
}

// upsertHosts records every online host in the inventory and returns how
// many writes succeeded. A retryable failure gets one more attempt.
func (m *Manager) upsertHosts(ctx context.Context, job *Job, hosts []scanning.HostResult) int {
	saved := 0
	for i := range hosts {
		h := &hosts[i]
		if !h.Online() {
			continue
		}
		rec := HostRecord{
			Address:  h.Address,
			Hostname: h.Hostname,
			Source:   SourceScan,
			LastSeen: h.DiscoveredAt,
		}
		err := m.store.UpsertHostRecord(ctx, rec)
		if errors.IsRetryable(err) {
			err = m.store.UpsertHostRecord(ctx, rec)
		}
		if err != nil {
			m.logger.ErrorJob("Host record upsert failed", job.id, err, "address", h.Address.String())
			continue
		}
		saved++
	}
	return saved
}

// persistStatus writes the job's current status. Writes for one job are
// serialised so a stale progress write can never land after a newer state.
func (m *Manager) persistStatus(ctx context.Context, job *Job) {
	if err := m.writeStatus(ctx, job, false); err != nil {
		m.logger.ErrorJob("Persisting job status failed", job.id, err)
	}
}

// writeStatus persists the job status. With onlyRunning set the write is
// skipped unless the job is still running.
func (m *Manager) writeStatus(ctx context.Context, job *Job, onlyRunning bool) error {
	job.persistMu.Lock()
	defer job.persistMu.Unlock()
	if onlyRunning && job.State() != StateRunning {
		return nil
	}
	return m.store.SaveJobStatus(ctx, job.statusRecord())
}

func (m *Manager) publish(kind EventKind, job *Job) {
	if len(m.listeners) == 0 {
		return
	}
	ev := Event{Kind: kind, Status: job.Status(), At: m.now()}
	if kind == EventProgress {
		ev.Status.Results = nil
	}
	for _, l := range m.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Job listener panicked", "panic", fmt.Sprint(r))
				}
			}()
			l.OnJobEvent(ev)
		}()
	}
}

// progressTracker bridges engine snapshots into job progress and throttled
// status writes. A failed write is retried on the next snapshot.
type progressTracker struct {
	manager   *Manager
	job       *Job
	ctx       context.Context
	log       *logging.Logger
	persisted float64
	dirty     bool
}

func (t *progressTracker) OnProgress(s scanning.Snapshot) {
	progress, running := t.job.observe(s)
	if !running {
		return
	}
	t.manager.publish(EventProgress, t.job)

	if !t.dirty && progress-t.persisted < minProgressStep && s.Current != s.Total {
		return
	}
	if err := t.manager.writeStatus(t.ctx, t.job, true); err != nil {
		t.dirty = true
		t.log.Warn("Progress write failed, retrying on next tick", "error", err, "progress", progress)
		return
	}
	t.dirty = false
	t.persisted = progress
}
