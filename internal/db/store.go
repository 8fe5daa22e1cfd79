package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/jobs"
	"github.com/anstrom/ipsweep/internal/scanning"
)

// resultBatchSize bounds rows per multi-row insert, keeping well below the
// PostgreSQL bind parameter limit.
const resultBatchSize = 1000

// DefaultHostListLimit caps ListHostRecords when no limit is given.
const DefaultHostListLimit = 1000

// Store persists jobs, results and the host inventory in PostgreSQL.
type Store struct {
	db  *DB
	now func() time.Time
}

var (
	_ jobs.Store        = (*Store)(nil)
	_ jobs.StatusLoader = (*Store)(nil)
	_ jobs.HostLister   = (*Store)(nil)
)

// NewStore creates a store on an open connection.
func NewStore(db *DB) *Store {
	return &Store{db: db, now: time.Now}
}

const upsertJobQuery = `
	INSERT INTO scan_jobs (id, state, progress, params, stats, summary, error_message,
		created_at, started_at, completed_at, updated_at)
	VALUES (:id, :state, :progress, :params, :stats, :summary, :error_message,
		:created_at, :started_at, :completed_at, NOW())
	ON CONFLICT (id) DO UPDATE SET
		state = EXCLUDED.state,
		progress = EXCLUDED.progress,
		stats = COALESCE(EXCLUDED.stats, scan_jobs.stats),
		summary = EXCLUDED.summary,
		error_message = EXCLUDED.error_message,
		started_at = EXCLUDED.started_at,
		completed_at = EXCLUDED.completed_at,
		updated_at = NOW()`

// SaveJobStatus writes the latest lifecycle state of a job.
func (s *Store) SaveJobStatus(ctx context.Context, rec jobs.JobStatusRecord) error {
	row, err := scanJobFromRecord(rec)
	if err != nil {
		return errors.WrapDatabaseError(errors.CodeValidation, "Invalid job status", err)
	}
	if _, err := s.db.NamedExecContext(ctx, upsertJobQuery, row); err != nil {
		return sanitizeDBError("save job status", err)
	}
	return nil
}

const insertResultsQuery = `
	INSERT INTO scan_results (job_id, address, hostname, mac, status, latency_ms,
		open_ports, services, discovered_at)
	VALUES (:job_id, :address, :hostname, :mac, :status, :latency_ms,
		:open_ports, :services, :discovered_at)`

// SaveJobResults replaces the stored results of a job in one transaction.
func (s *Store) SaveJobResults(ctx context.Context, jobID string, results []scanning.HostResult,
	stats scanning.ScanStatistics) error {
	rows := make([]ScanResult, 0, len(results))
	for _, h := range results {
		row, err := scanResultFromHost(jobID, h)
		if err != nil {
			return errors.WrapDatabaseError(errors.CodeValidation, "Invalid host result", err)
		}
		rows = append(rows, row)
	}
	encodedStats, err := toJSONB(stats)
	if err != nil {
		return errors.WrapDatabaseError(errors.CodeValidation, "Invalid scan statistics", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeDBError("begin save results", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_results WHERE job_id = $1`, jobID); err != nil {
		return sanitizeDBError("clear job results", err)
	}
	for start := 0; start < len(rows); start += resultBatchSize {
		end := min(start+resultBatchSize, len(rows))
		if _, err := tx.NamedExecContext(ctx, insertResultsQuery, rows[start:end]); err != nil {
			return sanitizeDBError("insert job results", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE scan_jobs SET stats = $2, updated_at = NOW() WHERE id = $1`, jobID, encodedStats); err != nil {
		return sanitizeDBError("update job stats", err)
	}

	if err := tx.Commit(); err != nil {
		return sanitizeDBError("commit job results", err)
	}
	return nil
}

// upsertHostQuery guards the externally owned fields: a scan upsert onto an
// external record refreshes liveness and fills a missing hostname only,
// while an external upsert claims the record.
const upsertHostQuery = `
	INSERT INTO ip_records (address, hostname, status, ping_status, source,
		external_rule_id, description, last_seen, created_at, updated_at)
	VALUES ($1, $2, 'active', 'online', $3, $4, $5, $6, $6, NOW())
	ON CONFLICT (address) DO UPDATE SET
		hostname = CASE
			WHEN ip_records.source = 'external' AND EXCLUDED.source <> 'external'
				THEN COALESCE(ip_records.hostname, EXCLUDED.hostname)
			ELSE COALESCE(EXCLUDED.hostname, ip_records.hostname)
		END,
		source = CASE
			WHEN EXCLUDED.source = 'external' THEN 'external'
			ELSE ip_records.source
		END,
		external_rule_id = CASE
			WHEN EXCLUDED.source = 'external' THEN EXCLUDED.external_rule_id
			ELSE ip_records.external_rule_id
		END,
		description = CASE
			WHEN EXCLUDED.source = 'external' THEN EXCLUDED.description
			ELSE ip_records.description
		END,
		status = 'active',
		ping_status = EXCLUDED.ping_status,
		last_seen = GREATEST(ip_records.last_seen, EXCLUDED.last_seen),
		updated_at = NOW()`

// UpsertHostRecord creates or refreshes the inventory entry for an address.
func (s *Store) UpsertHostRecord(ctx context.Context, rec jobs.HostRecord) error {
	if !rec.Address.IsValid() {
		return errors.ErrInvalidTarget(rec.Address.String())
	}
	source := rec.Source
	if source == "" {
		source = jobs.SourceScan
	}
	seen := rec.LastSeen
	if seen.IsZero() {
		seen = s.now()
	}
	var ruleID, description *string
	if source == jobs.SourceExternal {
		ruleID = nullString(rec.RuleID)
		description = nullString(rec.Description)
	}

	_, err := s.db.ExecContext(ctx, upsertHostQuery,
		IPAddr{rec.Address}, nullString(rec.Hostname), string(source), ruleID, description, seen)
	if err != nil {
		return sanitizeDBError("upsert host record", err)
	}
	return nil
}

// LoadJob returns a stored job, including results once it is terminal.
func (s *Store) LoadJob(ctx context.Context, jobID string) (*jobs.Status, error) {
	var row ScanJob
	err := s.db.GetContext(ctx, &row, `
		SELECT id, state, progress, params, stats, summary, error_message,
			created_at, started_at, completed_at
		FROM scan_jobs WHERE id = $1`, jobID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrJobNotFound(jobID)
	}
	if err != nil {
		return nil, sanitizeDBError("load job", err)
	}

	st, err := row.toStatus()
	if err != nil {
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseQuery, "Stored job is unreadable", err)
	}
	if !st.State.Terminal() {
		return st, nil
	}

	results, err := s.JobResults(ctx, jobID)
	if err != nil {
		return nil, err
	}
	st.Results = results
	return st, nil
}

// JobResults returns the stored results of a job ordered by address.
func (s *Store) JobResults(ctx context.Context, jobID string) ([]scanning.HostResult, error) {
	var rows []ScanResult
	err := s.db.SelectContext(ctx, &rows, `
		SELECT job_id, address, hostname, mac, status, latency_ms, open_ports, services, discovered_at
		FROM scan_results WHERE job_id = $1 ORDER BY address`, jobID)
	if err != nil {
		return nil, sanitizeDBError("load job results", err)
	}

	out := make([]scanning.HostResult, 0, len(rows))
	for i := range rows {
		h, err := rows[i].toHostResult()
		if err != nil {
			return nil, errors.WrapDatabaseError(errors.CodeDatabaseQuery, "Stored result is unreadable", err)
		}
		out = append(out, h)
	}
	return out, nil
}

// ListHostRecords returns up to limit inventory entries ordered by address.
func (s *Store) ListHostRecords(ctx context.Context, limit int) ([]jobs.HostRecord, error) {
	if limit <= 0 {
		limit = DefaultHostListLimit
	}
	var rows []IPRecord
	err := s.db.SelectContext(ctx, &rows, `
		SELECT address, hostname, status, ping_status, source, external_rule_id, description,
			last_seen, created_at, updated_at
		FROM ip_records ORDER BY address LIMIT $1`, limit)
	if err != nil {
		return nil, sanitizeDBError("list host records", err)
	}

	out := make([]jobs.HostRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toHostRecord())
	}
	return out, nil
}
