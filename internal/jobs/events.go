package jobs

import (
	"sync"
	"time"
)

// EventKind distinguishes lifecycle changes from progress ticks.
type EventKind string

// Event kinds.
const (
	EventState    EventKind = "state"
	EventProgress EventKind = "progress"
)

// Event is published to listeners whenever a job changes state or reports
// progress. Status never carries results for progress events.
type Event struct {
	Kind   EventKind `json:"kind"`
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// Listener receives job events. Implementations must not block; they run on
// the job's worker goroutine.
type Listener interface {
	OnJobEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnJobEvent calls f.
func (f ListenerFunc) OnJobEvent(e Event) { f(e) }

// recentJobs caches terminal statuses so GetStatus keeps answering after a
// job leaves the registry, even without a StatusLoader.
type recentJobs struct {
	mu    sync.Mutex
	limit int
	order []string
	byID  map[string]Status
}

func newRecentJobs(limit int) *recentJobs {
	if limit <= 0 {
		limit = 1
	}
	return &recentJobs{limit: limit, byID: make(map[string]Status)}
}

func (r *recentJobs) put(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[st.JobID]; !ok {
		r.order = append(r.order, st.JobID)
	}
	r.byID[st.JobID] = st
	for len(r.order) > r.limit {
		delete(r.byID, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *recentJobs) get(id string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byID[id]
	return st, ok
}
