package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/scanning"
)

// State is a job lifecycle state.
type State string

// Lifecycle states. Completed, failed and cancelled are terminal.
const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateRunning, StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// transitions lists the forward edges of the state machine. A job cancelled
// before its worker starts goes straight from pending to cancelled.
var transitions = map[State][]State{
	StatePending: {StateRunning, StateCancelled},
	StateRunning: {StateCompleted, StateFailed, StateCancelled},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Progress checkpoints on the 0..100 scale persisted for a job.
const (
	progressRunning    = 5.0
	progressScanSpan   = 85.0
	progressBeforeSave = 90.0
	progressDone       = 100.0
)

// scanProgress maps engine percentage (0..100) into the scanning band.
func scanProgress(enginePercent float64) float64 {
	p := progressRunning + enginePercent*progressScanSpan/100
	if p > progressBeforeSave {
		p = progressBeforeSave
	}
	return p
}

// Summary describes a completed job.
type Summary struct {
	TotalScanned    int     `json:"total_scanned"`
	Online          int     `json:"online"`
	Offline         int     `json:"offline"`
	SavedToDB       int     `json:"saved_to_db"`
	DurationSeconds float64 `json:"duration_seconds"`
	Duration        string  `json:"duration"`
}

// Status is a point-in-time view of a job.
type Status struct {
	JobID       string                  `json:"job_id"`
	State       State                   `json:"state"`
	Progress    float64                 `json:"progress"`
	Params      Params                  `json:"params"`
	Stats       scanning.ScanStatistics `json:"stats"`
	Results     []scanning.HostResult   `json:"results,omitempty"`
	Summary     *Summary                `json:"summary,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	StartedAt   *time.Time              `json:"started_at,omitempty"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
}

// Job is one asynchronous engine execution. Its fields are guarded by mu;
// only the manager touches them.
type Job struct {
	id     string
	params Params
	run    scanning.RunConfig
	cancel context.CancelFunc
	done   chan struct{}

	// persistMu orders status writes for this job and fences the final
	// commit of host records against Cancel.
	persistMu sync.Mutex

	mu          sync.Mutex
	state       State
	progress    float64
	stats       scanning.ScanStatistics
	results     []scanning.HostResult
	summary     *Summary
	errMsg      string
	warnings    []string
	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
}

func newJob(id string, params Params, created time.Time) *Job {
	return &Job{
		id:        id,
		params:    params,
		run:       params.RunConfig(),
		done:      make(chan struct{}),
		state:     StatePending,
		createdAt: created,
	}
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// Done is closed when the job's worker has exited.
func (j *Job) Done() <-chan struct{} { return j.done }

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// transition moves the job forward, stamping start and completion times.
func (j *Job) transition(to State, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(to, at)
}

func (j *Job) transitionLocked(to State, at time.Time) error {
	if !CanTransition(j.state, to) {
		err := errors.NewJobError(errors.CodeJobTransition, "invalid state transition", j.id)
		err.State = string(j.state) + "->" + string(to)
		return err
	}
	j.state = to
	switch {
	case to == StateRunning:
		j.startedAt = &at
		j.progress = progressRunning
	case to.Terminal():
		j.completedAt = &at
		if to == StateCompleted {
			j.progress = progressDone
		}
	}
	return nil
}

// observe records an engine progress snapshot. It returns false once the
// job has left the running state.
func (j *Job) observe(s scanning.Snapshot) (float64, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateRunning {
		return j.progress, false
	}
	j.stats = s.Stats
	if p := scanProgress(s.Percent); p > j.progress {
		j.progress = p
	}
	return j.progress, true
}

// record stores the collected results for a running job. Partial results
// from a failed run are kept too; saving moves progress to the pre-save mark.
func (j *Job) record(res *scanning.Result, saving bool) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateRunning {
		return false
	}
	if res != nil {
		j.results = res.Hosts
		j.stats = res.Stats
		for _, w := range res.Warnings {
			j.warnings = append(j.warnings, w.String())
		}
	}
	if saving && j.progress < progressBeforeSave {
		j.progress = progressBeforeSave
	}
	return true
}

func (j *Job) fail(msg string, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StateFailed, at); err != nil {
		return err
	}
	j.errMsg = msg
	return nil
}

func (j *Job) complete(summary *Summary, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StateCompleted, at); err != nil {
		return err
	}
	j.summary = summary
	return nil
}

func (j *Job) cancelWith(msg string, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StateCancelled, at); err != nil {
		return err
	}
	j.errMsg = msg
	return nil
}

// Status snapshots the job. Results are only included once the job is
// terminal.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	st := Status{
		JobID:       j.id,
		State:       j.state,
		Progress:    j.progress,
		Params:      j.params.clone(),
		Stats:       j.stats,
		Summary:     j.summary,
		Error:       j.errMsg,
		Warnings:    append([]string(nil), j.warnings...),
		CreatedAt:   j.createdAt,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
	}
	if j.state.Terminal() && j.results != nil {
		st.Results = append([]scanning.HostResult(nil), j.results...)
	}
	return st
}

func (j *Job) statusRecord() JobStatusRecord {
	st := j.Status()
	return JobStatusRecord{
		JobID:       st.JobID,
		State:       st.State,
		Progress:    st.Progress,
		Params:      st.Params,
		Stats:       st.Stats,
		Summary:     st.Summary,
		Error:       st.Error,
		CreatedAt:   st.CreatedAt,
		StartedAt:   st.StartedAt,
		CompletedAt: st.CompletedAt,
	}
}
