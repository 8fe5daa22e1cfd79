package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/ipsweep/internal/discovery"
	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/jobs"
	"github.com/anstrom/ipsweep/internal/logging"
)

type fakeManager struct {
	mu        sync.Mutex
	submitted []jobs.Params
	active    []string
	err       error
}

func (f *fakeManager) Submit(_ context.Context, p jobs.Params) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.submitted = append(f.submitted, p)
	id := fmt.Sprintf("job-%d", len(f.submitted))
	f.active = append(f.active, id)
	return id, nil
}

func (f *fakeManager) ListActive() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.active)
}

func (f *fakeManager) finishAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = nil
}

func (f *fakeManager) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

type fakeImporter struct {
	mu    sync.Mutex
	rules []string
	block chan struct{}
	err   error
}

func (f *fakeImporter) Import(_ context.Context, ruleID string) (discovery.ImportSummary, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, ruleID)
	return discovery.ImportSummary{RuleID: ruleID}, f.err
}

func newTestScheduler(m Submitter) *Scheduler {
	return New(m, WithLogger(logging.NewDiscard()))
}

func params(ranges ...string) jobs.Params {
	return jobs.Params{Ranges: ranges}
}

func TestAddScanValidation(t *testing.T) {
	s := newTestScheduler(&fakeManager{})

	tests := []struct {
		name     string
		schedule string
		spec     string
		params   jobs.Params
		code     errors.ErrorCode
	}{
		{name: "missing name", spec: "@hourly", params: params("10.0.0.1"), code: errors.CodeValidation},
		{name: "bad cron", schedule: "a", spec: "every minute", params: params("10.0.0.1"), code: errors.CodeValidation},
		{name: "no ranges", schedule: "b", spec: "@hourly", code: errors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.AddScan(tt.schedule, tt.spec, tt.params)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.code), "got %s", errors.GetCode(err))
		})
	}

	require.NoError(t, s.AddScan("nightly", "0 2 * * *", params("10.0.0.0/24")))
	err := s.AddScan("nightly", "@daily", params("10.0.0.0/24"))
	assert.True(t, errors.IsConflict(err))
}

func TestRunScanSkipsWhilePreviousJobActive(t *testing.T) {
	m := &fakeManager{}
	s := newTestScheduler(m)
	p := params("10.0.0.0/30")
	p.JobID = "fixed"
	require.NoError(t, s.AddScan("sweep", "@hourly", p))

	require.NoError(t, s.Trigger("sweep"))
	require.NoError(t, s.Trigger("sweep"))
	assert.Equal(t, 1, m.count(), "second tick must be skipped while job-1 is active")

	m.finishAll()
	require.NoError(t, s.Trigger("sweep"))
	assert.Equal(t, 2, m.count())

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "job-2", entries[0].LastJobID)
	assert.Equal(t, 2, entries[0].Runs)
	assert.Equal(t, 1, entries[0].Skipped)
	assert.False(t, entries[0].NextRun.IsZero())

	// Scheduled submissions never reuse a configured job id.
	for _, sub := range m.submitted {
		assert.Empty(t, sub.JobID)
	}
}

func TestRunScanSubmitFailure(t *testing.T) {
	m := &fakeManager{err: errors.NewJobError(errors.CodeManagerShutdown, "manager is shut down", "")}
	s := newTestScheduler(m)
	require.NoError(t, s.AddScan("sweep", "@hourly", params("10.0.0.1")))

	require.NoError(t, s.Trigger("sweep"))
	entries := s.Entries()
	assert.Zero(t, entries[0].Runs)
	assert.Empty(t, entries[0].LastJobID)
}

func TestImportSchedule(t *testing.T) {
	s := newTestScheduler(&fakeManager{})
	imp := &fakeImporter{}

	require.Error(t, s.AddImport("zabbix", 0, imp, []string{"7"}))
	require.NoError(t, s.AddImport("zabbix", time.Hour, imp, []string{"7", "9"}))
	require.NoError(t, s.Trigger("zabbix"))

	imp.mu.Lock()
	assert.Equal(t, []string{"7", "9"}, imp.rules)
	imp.mu.Unlock()
	assert.Equal(t, "@every 1h0m0s", s.Entries()[0].Spec)
	assert.Equal(t, KindImport, s.Entries()[0].Kind)
}

func TestImportStopsOnFatalError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		rules []string
	}{
		{"fatal stops", errors.ErrConfigMissing("discovery.zabbix.url"), []string{"7"}},
		{"transient continues", errors.WrapDiscoveryError(errors.CodeDiscoveryFailed, "unreachable", "zabbix", nil), []string{"7", "9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(&fakeManager{})
			imp := &fakeImporter{err: tt.err}
			require.NoError(t, s.AddImport("zabbix", time.Hour, imp, []string{"7", "9"}))
			require.NoError(t, s.Trigger("zabbix"))

			imp.mu.Lock()
			assert.Equal(t, tt.rules, imp.rules)
			imp.mu.Unlock()
			assert.Equal(t, 1, s.Entries()[0].Runs)
		})
	}
}

func TestImportOverlapSkipped(t *testing.T) {
	s := newTestScheduler(&fakeManager{})
	imp := &fakeImporter{block: make(chan struct{})}
	require.NoError(t, s.AddImport("zabbix", time.Minute, imp, []string{"7"}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Trigger("zabbix")
	}()

	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.jobs["zabbix"].running
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Trigger("zabbix"))
	close(imp.block)
	<-done

	e := s.Entries()[0]
	assert.Equal(t, 1, e.Runs)
	assert.Equal(t, 1, e.Skipped)
}

func TestRemoveAndTriggerUnknown(t *testing.T) {
	s := newTestScheduler(&fakeManager{})
	require.NoError(t, s.AddScan("sweep", "@hourly", params("10.0.0.1")))

	assert.True(t, s.Remove("sweep"))
	assert.False(t, s.Remove("sweep"))
	assert.Empty(t, s.Entries())
	assert.True(t, errors.IsNotFound(s.Trigger("sweep")))
}

func TestStartStop(t *testing.T) {
	m := &fakeManager{}
	s := newTestScheduler(m)
	require.NoError(t, s.AddScan("fast", "@every 1s", params("10.0.0.1")))

	require.NoError(t, s.Start())
	require.Error(t, s.Start())

	require.Eventually(t, func() bool { return m.count() >= 1 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx), "stopping twice is a no-op")
}
