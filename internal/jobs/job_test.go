package jobs

import (
	"encoding/json"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/ports"
	"github.com/anstrom/ipsweep/internal/scanning"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StatePending, StateRunning, true},
		{StatePending, StateCancelled, true},
		{StatePending, StateCompleted, false},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateFailed, true},
		{StateRunning, StateCancelled, true},
		{StateRunning, StatePending, false},
		{StateCompleted, StateRunning, false},
		{StateFailed, StateCancelled, false},
		{StateCancelled, StateCompleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestJobTransitionsAreForwardOnly(t *testing.T) {
	j := newJob("j1", Params{Ranges: []string{"10.0.0.1"}}, time.Now())
	now := time.Now()

	require.NoError(t, j.transition(StateRunning, now))
	st := j.Status()
	assert.Equal(t, 5.0, st.Progress)
	require.NotNil(t, st.StartedAt)

	require.NoError(t, j.complete(&Summary{TotalScanned: 1}, now))
	err := j.transition(StateRunning, now)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeJobTransition))
	assert.Error(t, j.fail("late", now))
	assert.Error(t, j.cancelWith("late", now))

	st = j.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, 100.0, st.Progress)
	assert.Empty(t, st.Error)
	require.NotNil(t, st.CompletedAt)
}

func TestJobObserveIgnoredWhenNotRunning(t *testing.T) {
	j := newJob("j2", Params{Ranges: []string{"10.0.0.1"}}, time.Now())
	_, ok := j.observe(scanning.Snapshot{Percent: 50})
	assert.False(t, ok)

	require.NoError(t, j.transition(StateRunning, time.Now()))
	p, ok := j.observe(scanning.Snapshot{Percent: 50})
	assert.True(t, ok)
	assert.InDelta(t, 47.5, p, 0.001)

	p, _ = j.observe(scanning.Snapshot{Percent: 100})
	assert.Equal(t, 90.0, p)
}

func TestScanProgress(t *testing.T) {
	assert.Equal(t, 5.0, scanProgress(0))
	assert.InDelta(t, 47.5, scanProgress(50), 0.001)
	assert.Equal(t, 90.0, scanProgress(100))
	assert.Equal(t, 90.0, scanProgress(250))
}

func TestParamsRunConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := Params{Ranges: []string{"10.0.0.0/30"}}
		cfg := p.RunConfig()
		assert.Equal(t, ports.ComprehensivePorts, cfg.Host.Ports)
		assert.Equal(t, scanning.DefaultMaxConcurrent, cfg.MaxConcurrent)
		assert.Equal(t, 3*time.Second, cfg.Host.ProbeTimeout)
		assert.Equal(t, time.Second, cfg.Host.LivenessTimeout)
		assert.False(t, cfg.Host.LivenessOnly)
	})

	t.Run("explicit ports normalized", func(t *testing.T) {
		p := Params{Ranges: []string{"10.0.0.1"}, Ports: []int{443, 22, 443}, MaxConcurrent: 7}
		cfg := p.RunConfig()
		assert.Equal(t, []int{22, 443}, cfg.Host.Ports)
		assert.Equal(t, 7, cfg.MaxConcurrent)
	})

	t.Run("check type", func(t *testing.T) {
		ct := ports.CheckLDAP
		cfg := (&Params{Ranges: []string{"10.0.0.1"}, CheckType: &ct}).RunConfig()
		assert.Equal(t, []int{389, 636}, cfg.Host.Ports)
		assert.False(t, cfg.Host.SNMP)
	})

	t.Run("icmp check type is liveness only", func(t *testing.T) {
		ct := ports.CheckICMPPing
		cfg := (&Params{Ranges: []string{"10.0.0.1"}, CheckType: &ct}).RunConfig()
		assert.True(t, cfg.Host.LivenessOnly)
	})

	t.Run("snmp check type", func(t *testing.T) {
		ct := ports.CheckSNMPv2
		cfg := (&Params{Ranges: []string{"10.0.0.1"}, CheckType: &ct}).RunConfig()
		assert.True(t, cfg.Host.SNMP)
		assert.Equal(t, []int{161}, cfg.Host.Ports)
	})
}

func TestParamsValidate(t *testing.T) {
	ok := Params{Ranges: []string{"10.0.0.1-50"}, Ports: []int{22}, MaxConcurrent: 10}
	assert.NoError(t, ok.Validate())

	ct := ports.CheckType(16)
	bad := Params{Ranges: []string{"10.0.0.1"}, CheckType: &ct}
	assert.True(t, errors.IsCode(bad.Validate(), errors.CodeValidation))

	tooMany := Params{Ranges: []string{"10.0.0.1"}, MaxConcurrent: 100000}
	assert.Error(t, tooMany.Validate())
}

func TestParamsCloneIsDeep(t *testing.T) {
	ct := ports.CheckSSH
	p := Params{Ranges: []string{"a"}, Ports: []int{1}, CheckType: &ct}
	c := p.clone()
	c.Ranges[0] = "b"
	c.Ports[0] = 2
	*c.CheckType = ports.CheckFTP

	assert.Equal(t, "a", p.Ranges[0])
	assert.Equal(t, 1, p.Ports[0])
	assert.Equal(t, ports.CheckSSH, *p.CheckType)
}

func TestDurationEncoding(t *testing.T) {
	var p Params
	require.NoError(t, json.Unmarshal([]byte(`{"ranges":["10.0.0.1"],"probe_timeout":"2s","liveness_timeout":0.5}`), &p))
	assert.Equal(t, Duration(2*time.Second), p.ProbeTimeout)
	assert.Equal(t, Duration(500*time.Millisecond), p.LivenessTimeout)

	out, err := json.Marshal(Duration(1500 * time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"probe_timeout":"soon"}`), &p))

	var y Params
	require.NoError(t, yaml.Unmarshal([]byte("ranges: [10.0.0.0/24]\nprobe_timeout: 750ms\n"), &y))
	assert.Equal(t, Duration(750*time.Millisecond), y.ProbeTimeout)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := newJob("a", Params{Ranges: []string{"10.0.0.1"}}, time.Now())
	b := newJob("b", Params{Ranges: []string{"10.0.0.1"}}, time.Now())

	require.NoError(t, r.Register(b))
	require.NoError(t, r.Register(a))
	assert.True(t, errors.IsConflict(r.Register(newJob("a", Params{}, time.Now()))))
	assert.Equal(t, []string{"a", "b"}, r.IDs())

	got, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	// A replacement job under the same id is not evicted by the old one.
	assert.True(t, r.Remove(a))
	a2 := newJob("a", Params{}, time.Now())
	require.NoError(t, r.Register(a2))
	assert.False(t, r.Remove(a))
	_, ok = r.Lookup("a")
	assert.True(t, ok)
}

func TestRecentJobsEvicts(t *testing.T) {
	r := newRecentJobs(2)
	r.put(Status{JobID: "1"})
	r.put(Status{JobID: "2"})
	r.put(Status{JobID: "2", State: StateFailed})
	r.put(Status{JobID: "3"})

	_, ok := r.get("1")
	assert.False(t, ok)
	st, ok := r.get("2")
	require.True(t, ok)
	assert.Equal(t, StateFailed, st.State)
}

func TestMergeHostRecord(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.9")
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	t.Run("new record", func(t *testing.T) {
		got := MergeHostRecord(nil, HostRecord{Address: addr, Hostname: "a", LastSeen: t0})
		assert.Equal(t, SourceScan, got.Source)
		assert.Equal(t, t0, got.FirstSeen)
	})

	t.Run("scan refreshes scan record", func(t *testing.T) {
		existing := &HostRecord{Address: addr, Hostname: "old", Source: SourceScan, LastSeen: t0, FirstSeen: t0}
		got := MergeHostRecord(existing, HostRecord{Address: addr, Hostname: "new", Source: SourceScan, LastSeen: t1})
		assert.Equal(t, "new", got.Hostname)
		assert.Equal(t, t1, got.LastSeen)
		assert.Equal(t, t0, got.FirstSeen)
	})

	t.Run("scan keeps name when lookup failed", func(t *testing.T) {
		existing := &HostRecord{Address: addr, Hostname: "old", Source: SourceScan, LastSeen: t0}
		got := MergeHostRecord(existing, HostRecord{Address: addr, Source: SourceScan, LastSeen: t1})
		assert.Equal(t, "old", got.Hostname)
	})

	t.Run("scan does not overwrite external fields", func(t *testing.T) {
		existing := &HostRecord{
			Address: addr, Hostname: "zbx-name", Source: SourceExternal,
			RuleID: "7", Description: "discovered by external rule 7", LastSeen: t0,
		}
		got := MergeHostRecord(existing, HostRecord{Address: addr, Hostname: "ptr-name", Source: SourceScan, LastSeen: t1})
		assert.Equal(t, "zbx-name", got.Hostname)
		assert.Equal(t, SourceExternal, got.Source)
		assert.Equal(t, "7", got.RuleID)
		assert.Equal(t, "discovered by external rule 7", got.Description)
		assert.Equal(t, t1, got.LastSeen)
	})

	t.Run("scan fills empty external hostname", func(t *testing.T) {
		existing := &HostRecord{Address: addr, Source: SourceExternal, RuleID: "7", LastSeen: t0}
		got := MergeHostRecord(existing, HostRecord{Address: addr, Hostname: "ptr-name", LastSeen: t1})
		assert.Equal(t, "ptr-name", got.Hostname)
	})

	t.Run("external claims scan record", func(t *testing.T) {
		existing := &HostRecord{Address: addr, Hostname: "ptr-name", Source: SourceScan, LastSeen: t1}
		got := MergeHostRecord(existing, HostRecord{
			Address: addr, Source: SourceExternal, RuleID: "3", Description: "d", LastSeen: t0,
		})
		assert.Equal(t, SourceExternal, got.Source)
		assert.Equal(t, "3", got.RuleID)
		assert.Equal(t, "ptr-name", got.Hostname)
		assert.Equal(t, t1, got.LastSeen, "last seen never moves backwards")
	})
}
