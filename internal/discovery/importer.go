package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/anstrom/ipsweep/internal/jobs"
	"github.com/anstrom/ipsweep/internal/logging"
)

// HostUpserter is the part of the job store the importer writes through.
type HostUpserter interface {
	UpsertHostRecord(ctx context.Context, rec jobs.HostRecord) error
}

// Recorder observes finished imports.
type Recorder interface {
	ExternalImport(source string, upserted, failed int)
}

// ImportSummary counts what one import did.
type ImportSummary struct {
	Source   string `json:"source"`
	RuleID   string `json:"rule_id"`
	Seen     int    `json:"seen"`
	Upserted int    `json:"upserted"`
	Failed   int    `json:"failed"`
}

// Importer feeds hosts from a Source into the host inventory as externally
// sourced records.
type Importer struct {
	source   Source
	store    HostUpserter
	logger   *logging.Logger
	recorder Recorder
	now      func() time.Time
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithImportLogger sets the importer's logger.
func WithImportLogger(l *logging.Logger) ImporterOption {
	return func(i *Importer) { i.logger = l }
}

// WithImportRecorder reports import counts to r.
func WithImportRecorder(r Recorder) ImporterOption {
	return func(i *Importer) { i.recorder = r }
}

// NewImporter creates an importer from source into store.
func NewImporter(source Source, store HostUpserter, opts ...ImporterOption) *Importer {
	i := &Importer{
		source: source,
		store:  store,
		logger: logging.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.WithComponent("discovery")
	return i
}

// Description is the inventory description given to hosts from ruleID.
func Description(ruleID string) string {
	return fmt.Sprintf("discovered by external rule %s", ruleID)
}

// Import fetches the hosts found by ruleID and upserts each of them. A
// failed upsert is counted and logged; only a failure to reach the source
// is returned as an error.
func (i *Importer) Import(ctx context.Context, ruleID string) (ImportSummary, error) {
	summary := ImportSummary{Source: i.source.Name(), RuleID: ruleID}
	log := i.logger.WithFields("source", summary.Source, "rule_id", ruleID)

	hosts, err := i.source.Discovered(ctx, ruleID)
	if err != nil {
		log.Error("External discovery failed", "error", err)
		return summary, err
	}
	summary.Seen = len(hosts)

	seen := i.now()
	for _, h := range hosts {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		rec := jobs.HostRecord{
			Address:     h.Address,
			Hostname:    h.Hostname,
			Source:      jobs.SourceExternal,
			RuleID:      ruleID,
			Description: Description(ruleID),
			LastSeen:    seen,
		}
		if err := i.store.UpsertHostRecord(ctx, rec); err != nil {
			summary.Failed++
			log.Warn("Failed to upsert external host", "address", h.Address.String(), "error", err)
			continue
		}
		summary.Upserted++
	}

	if i.recorder != nil {
		i.recorder.ExternalImport(summary.Source, summary.Upserted, summary.Failed)
	}
	log.Info("External discovery imported",
		"seen", summary.Seen, "upserted", summary.Upserted, "failed", summary.Failed)
	return summary, nil
}
