package jobs

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/anstrom/ipsweep/internal/jobs Store

import (
	"context"
	"net/netip"
	"time"

	"github.com/anstrom/ipsweep/internal/scanning"
)

// Store is the persistence collaborator of the manager. The manager only
// ever writes through it.
type Store interface {
	SaveJobStatus(ctx context.Context, rec JobStatusRecord) error
	// SaveJobResults replaces any results previously stored for jobID.
	SaveJobResults(ctx context.Context, jobID string, results []scanning.HostResult, stats scanning.ScanStatistics) error
	UpsertHostRecord(ctx context.Context, rec HostRecord) error
}

// StatusLoader is implemented by stores that can answer status queries for
// jobs no longer held in memory.
type StatusLoader interface {
	LoadJob(ctx context.Context, jobID string) (*Status, error)
}

// HostLister serves the host inventory.
type HostLister interface {
	ListHostRecords(ctx context.Context, limit int) ([]HostRecord, error)
}

// JobStatusRecord is the persisted form of a job's lifecycle state.
type JobStatusRecord struct {
	JobID       string
	State       State
	Progress    float64
	Params      Params
	Stats       scanning.ScanStatistics
	Summary     *Summary
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// HostSource says who created a host record.
type HostSource string

// Host record sources.
const (
	SourceScan     HostSource = "scan"
	SourceExternal HostSource = "external"
)

// HostRecord is the long-lived inventory entry for an address.
type HostRecord struct {
	Address     netip.Addr `json:"address"`
	Hostname    string     `json:"hostname,omitempty"`
	Source      HostSource `json:"source"`
	RuleID      string     `json:"rule_id,omitempty"`
	Description string     `json:"description,omitempty"`
	LastSeen    time.Time  `json:"last_seen"`
	FirstSeen   time.Time  `json:"first_seen"`
}

// MergeHostRecord applies an upsert of incoming onto existing (nil when the
// address is new). Scan upserts only refresh liveness on externally sourced
// records and fill a missing hostname; external upserts claim the record.
func MergeHostRecord(existing *HostRecord, incoming HostRecord) HostRecord {
	if incoming.Source == "" {
		incoming.Source = SourceScan
	}
	if existing == nil {
		incoming.FirstSeen = incoming.LastSeen
		return incoming
	}

	merged := *existing
	if incoming.LastSeen.After(merged.LastSeen) {
		merged.LastSeen = incoming.LastSeen
	}

	if incoming.Source == SourceExternal {
		merged.Source = SourceExternal
		merged.RuleID = incoming.RuleID
		merged.Description = incoming.Description
		if incoming.Hostname != "" {
			merged.Hostname = incoming.Hostname
		}
		return merged
	}

	if existing.Source == SourceExternal {
		if merged.Hostname == "" {
			merged.Hostname = incoming.Hostname
		}
		return merged
	}
	if incoming.Hostname != "" {
		merged.Hostname = incoming.Hostname
	}
	return merged
}
