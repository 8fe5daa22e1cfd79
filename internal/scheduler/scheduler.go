// Package scheduler runs recurring scans and external discovery imports on
// cron schedules. Each tick submits a job to the task manager; a tick whose
// previous job is still active is skipped.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anstrom/ipsweep/internal/discovery"
	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/jobs"
	"github.com/anstrom/ipsweep/internal/logging"
)

// Submitter is the part of the task manager the scheduler drives.
type Submitter interface {
	Submit(ctx context.Context, params jobs.Params) (string, error)
	ListActive() []string
}

// Importer runs one external discovery import.
type Importer interface {
	Import(ctx context.Context, ruleID string) (discovery.ImportSummary, error)
}

// Kind tells scan entries from import entries.
type Kind string

const (
	KindScan   Kind = "scan"
	KindImport Kind = "import"
)

// Entry describes one registered schedule.
type Entry struct {
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Spec      string    `json:"spec"`
	LastJobID string    `json:"last_job_id,omitempty"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
	Runs      int       `json:"runs"`
	Skipped   int       `json:"skipped"`
}

type scheduledJob struct {
	entry   Entry
	cronID  cron.EntryID
	params  jobs.Params
	running bool
}

// Scheduler owns a cron runner and the entries registered on it.
type Scheduler struct {
	cron    *cron.Cron
	manager Submitter
	logger  *logging.Logger
	now     func() time.Time

	mu      sync.RWMutex
	jobs    map[string]*scheduledJob
	running bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a stopped scheduler that submits scans to manager.
func New(manager Submitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		manager: manager,
		logger:  logging.Default(),
		now:     time.Now,
		jobs:    make(map[string]*scheduledJob),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("scheduler")
	s.ctx, s.cancel = context.WithCancel(context.Background())
	cl := cronLogger{s.logger}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl)))
	return s
}

// AddScan registers a recurring scan. spec is a standard five-field cron
// expression or a descriptor such as "@hourly".
func (s *Scheduler) AddScan(name, spec string, params jobs.Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	// Every tick gets a fresh job id.
	params.JobID = ""
	return s.add(name, KindScan, spec, params, func() { s.runScan(name) })
}

// AddImport registers a recurring external import of ruleIDs. Overlapping
// runs of the same import are skipped.
func (s *Scheduler) AddImport(name string, every time.Duration, importer Importer, ruleIDs []string) error {
	if every <= 0 {
		return errors.NewConfigFieldError(errors.CodeValidation, "import interval must be positive", "interval", every)
	}
	spec := "@every " + every.String()
	rules := slices.Clone(ruleIDs)
	return s.add(name, KindImport, spec, jobs.Params{}, func() { s.runImport(name, importer, rules) })
}

func (s *Scheduler) add(name string, kind Kind, spec string, params jobs.Params, fn func()) error {
	if name == "" {
		return errors.NewConfigFieldError(errors.CodeValidation, "schedule name is required", "name", name)
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("invalid cron expression: %v", err), "cron", spec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return errors.NewConfigFieldError(errors.CodeConflict,
			fmt.Sprintf("schedule %q already exists", name), "name", name)
	}

	id := s.cron.Schedule(sched, cron.FuncJob(fn))
	s.jobs[name] = &scheduledJob{
		entry:  Entry{Name: name, Kind: kind, Spec: spec},
		cronID: id,
		params: params,
	}
	s.logger.Info("Schedule added", "name", name, "kind", kind, "spec", spec)
	return nil
}

// Remove unregisters a schedule. A job it already submitted keeps running.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(job.cronID)
	delete(s.jobs, name)
	s.logger.Info("Schedule removed", "name", name)
	return true
}

// Entries returns every schedule ordered by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.jobs))
	for _, job := range s.jobs {
		e := job.entry
		e.NextRun = s.cron.Entry(job.cronID).Next
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins firing schedules.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("Scheduler started", "schedules", len(s.jobs))
	return nil
}

// Stop stops firing schedules and waits, bounded by ctx, for ticks that are
// already executing. Jobs submitted to the manager are not cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger runs a schedule immediately, outside its cron timing.
func (s *Scheduler) Trigger(name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return errors.NewConfigFieldError(errors.CodeNotFound, fmt.Sprintf("schedule %q not found", name), "name", name)
	}
	if job.entry.Kind == KindScan {
		s.runScan(name)
		return nil
	}
	if entry := s.cron.Entry(job.cronID); entry.Job != nil {
		entry.Job.Run()
	}
	return nil
}

// runScan submits one scan for the named schedule unless its previous job
// is still active.
func (s *Scheduler) runScan(name string) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	if last := job.entry.LastJobID; last != "" && slices.Contains(s.manager.ListActive(), last) {
		job.entry.Skipped++
		s.mu.Unlock()
		s.logger.Warn("Previous scan still running, skipping tick", "name", name, "job_id", last)
		return
	}
	params := job.params
	s.mu.Unlock()

	id, err := s.manager.Submit(s.ctx, params)
	if err != nil {
		s.logger.Error("Scheduled scan submission failed", "name", name, "error", err)
		return
	}

	s.mu.Lock()
	if job, ok := s.jobs[name]; ok {
		job.entry.LastJobID = id
		job.entry.LastRun = s.now()
		job.entry.Runs++
	}
	s.mu.Unlock()
	s.logger.Info("Scheduled scan submitted", "name", name, "job_id", id)
}

func (s *Scheduler) runImport(name string, importer Importer, ruleIDs []string) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	if job.running {
		job.entry.Skipped++
		s.mu.Unlock()
		s.logger.Warn("Previous import still running, skipping tick", "name", name)
		return
	}
	job.running = true
	s.mu.Unlock()

	for _, rule := range ruleIDs {
		if s.ctx.Err() != nil {
			break
		}
		// The importer logs its own summary and failures.
		if _, err := importer.Import(s.ctx, rule); errors.IsFatal(err) {
			s.logger.Error("Import cannot succeed, skipping remaining rules", "name", name, "error", err)
			break
		}
	}

	s.mu.Lock()
	if job, ok := s.jobs[name]; ok {
		job.running = false
		job.entry.LastRun = s.now()
		job.entry.Runs++
	}
	s.mu.Unlock()
}

// cronLogger adapts the ipsweep logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
