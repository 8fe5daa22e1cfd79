package jobs

import (
	"context"
	"net/netip"
	"sort"
	"sync"

	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/scanning"
)

// MemoryStore keeps everything in process memory. It backs foreground CLI
// scans and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]JobStatusRecord
	results map[string][]scanning.HostResult
	hosts   map[netip.Addr]HostRecord
}

var (
	_ Store        = (*MemoryStore)(nil)
	_ StatusLoader = (*MemoryStore)(nil)
	_ HostLister   = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]JobStatusRecord),
		results: make(map[string][]scanning.HostResult),
		hosts:   make(map[netip.Addr]HostRecord),
	}
}

// SaveJobStatus stores the latest status record for a job.
func (s *MemoryStore) SaveJobStatus(_ context.Context, rec JobStatusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[rec.JobID] = rec
	return nil
}

// SaveJobResults replaces the results of a job. An empty set removes them.
func (s *MemoryStore) SaveJobResults(ctx context.Context, jobID string, results []scanning.HostResult,
	stats scanning.ScanStatistics) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(results) == 0 {
		delete(s.results, jobID)
	} else {
		s.results[jobID] = append([]scanning.HostResult(nil), results...)
	}
	if rec, ok := s.jobs[jobID]; ok {
		rec.Stats = stats
		s.jobs[jobID] = rec
	}
	return nil
}

// UpsertHostRecord creates or refreshes the inventory entry for an address.
func (s *MemoryStore) UpsertHostRecord(_ context.Context, rec HostRecord) error {
	if !rec.Address.IsValid() {
		return errors.ErrInvalidTarget(rec.Address.String())
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *HostRecord
	if cur, ok := s.hosts[rec.Address]; ok {
		existing = &cur
	}
	s.hosts[rec.Address] = MergeHostRecord(existing, rec)
	return nil
}

// LoadJob returns the stored status of a job, including results once terminal.
func (s *MemoryStore) LoadJob(_ context.Context, jobID string) (*Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, errors.ErrJobNotFound(jobID)
	}
	st := &Status{
		JobID:       rec.JobID,
		State:       rec.State,
		Progress:    rec.Progress,
		Params:      rec.Params,
		Stats:       rec.Stats,
		Summary:     rec.Summary,
		Error:       rec.Error,
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
	if rec.State.Terminal() {
		st.Results = append([]scanning.HostResult(nil), s.results[jobID]...)
	}
	return st, nil
}

// Host returns the inventory entry for addr.
func (s *MemoryStore) Host(addr netip.Addr) (HostRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.hosts[addr]
	return rec, ok
}

// Hosts returns all inventory entries ordered by address.
func (s *MemoryStore) Hosts() []HostRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]HostRecord, 0, len(s.hosts))
	for _, rec := range s.hosts {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Less(out[j].Address) })
	return out
}

// ListHostRecords returns up to limit inventory entries ordered by address.
// A limit of zero or less returns everything.
func (s *MemoryStore) ListHostRecords(_ context.Context, limit int) ([]HostRecord, error) {
	hosts := s.Hosts()
	if limit > 0 && len(hosts) > limit {
		hosts = hosts[:limit]
	}
	return hosts, nil
}

// Results returns the stored results of a job.
func (s *MemoryStore) Results(jobID string) []scanning.HostResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]scanning.HostResult(nil), s.results[jobID]...)
}
