package jobs

import (
	"sort"
	"sync"

	"github.com/anstrom/ipsweep/internal/errors"
)

// Registry holds the jobs currently executing. It is the only state shared
// between job workers.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Register adds j. An id that is already active is a conflict.
func (r *Registry) Register(j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[j.id]; exists {
		return errors.ErrJobActive(j.id)
	}
	r.jobs[j.id] = j
	return nil
}

// Lookup returns the active job with id.
func (r *Registry) Lookup(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

// Remove drops j if it is still the job registered under its id. A worker
// finishing after its job was cancelled and resubmitted must not evict the
// new job.
func (r *Registry) Remove(j *Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.jobs[j.id]; ok && cur == j {
		delete(r.jobs, j.id)
		return true
	}
	return false
}

// IDs returns the active job ids in ascending order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
