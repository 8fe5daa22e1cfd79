package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/anstrom/ipsweep/internal/jobs"
	"github.com/anstrom/ipsweep/internal/scanning"
)

// IPAddr wraps netip.Addr to implement the PostgreSQL INET type.
type IPAddr struct {
	netip.Addr
}

// Scan implements sql.Scanner for PostgreSQL INET type. A host prefix such
// as 10.0.0.1/32 is reduced to its address.
func (ip *IPAddr) Scan(value interface{}) error {
	if value == nil {
		ip.Addr = netip.Addr{}
		return nil
	}

	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into IPAddr", value)
	}

	if strings.Contains(s, "/") {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return fmt.Errorf("failed to parse IP address: %s", s)
		}
		ip.Addr = prefix.Addr()
		return nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return fmt.Errorf("failed to parse IP address: %s", s)
	}
	ip.Addr = addr
	return nil
}

// Value implements driver.Valuer for PostgreSQL INET type.
func (ip IPAddr) Value() (driver.Value, error) {
	if !ip.IsValid() {
		return nil, nil
	}
	return ip.Addr.String(), nil
}

// JSONB wraps json.RawMessage for PostgreSQL JSONB type.
type JSONB json.RawMessage

// Scan implements sql.Scanner for PostgreSQL JSONB type.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append(JSONB(nil), v...)
		return nil
	case string:
		*j = JSONB(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// Value implements driver.Valuer for PostgreSQL JSONB type.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// MarshalJSON implements json.Marshaler.
func (j JSONB) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *JSONB) UnmarshalJSON(data []byte) error {
	*j = append(JSONB(nil), data...)
	return nil
}

// toJSONB encodes v, mapping nil pointers to SQL NULL.
func toJSONB(v interface{}) (JSONB, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return JSONB(b), nil
}

// decode unmarshals j into v; a NULL column leaves v untouched.
func (j JSONB) decode(v interface{}) error {
	if len(j) == 0 {
		return nil
	}
	return json.Unmarshal(j, v)
}

// ScanJob is a row of scan_jobs.
type ScanJob struct {
	ID           string     `db:"id"`
	State        string     `db:"state"`
	Progress     float64    `db:"progress"`
	Params       JSONB      `db:"params"`
	Stats        JSONB      `db:"stats"`
	Summary      JSONB      `db:"summary"`
	ErrorMessage *string    `db:"error_message"`
	CreatedAt    time.Time  `db:"created_at"`
	StartedAt    *time.Time `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
}

func scanJobFromRecord(rec jobs.JobStatusRecord) (*ScanJob, error) {
	params, err := toJSONB(rec.Params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	stats, err := toJSONB(rec.Stats)
	if err != nil {
		return nil, fmt.Errorf("encode stats: %w", err)
	}
	var summary JSONB
	if rec.Summary != nil {
		if summary, err = toJSONB(rec.Summary); err != nil {
			return nil, fmt.Errorf("encode summary: %w", err)
		}
	}
	row := &ScanJob{
		ID:          rec.JobID,
		State:       string(rec.State),
		Progress:    rec.Progress,
		Params:      params,
		Stats:       stats,
		Summary:     summary,
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
	if rec.Error != "" {
		msg := rec.Error
		row.ErrorMessage = &msg
	}
	return row, nil
}

// toStatus converts the row to a job status without results.
func (r *ScanJob) toStatus() (*jobs.Status, error) {
	st := &jobs.Status{
		JobID:       r.ID,
		State:       jobs.State(r.State),
		Progress:    r.Progress,
		CreatedAt:   r.CreatedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
	if r.ErrorMessage != nil {
		st.Error = *r.ErrorMessage
	}
	if err := r.Params.decode(&st.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if err := r.Stats.decode(&st.Stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	if len(r.Summary) > 0 {
		st.Summary = &jobs.Summary{}
		if err := r.Summary.decode(st.Summary); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
	}
	return st, nil
}

// ScanResult is a row of scan_results.
type ScanResult struct {
	JobID        string        `db:"job_id"`
	Address      IPAddr        `db:"address"`
	Hostname     *string       `db:"hostname"`
	MAC          *string       `db:"mac"`
	Status       string        `db:"status"`
	LatencyMS    *float64      `db:"latency_ms"`
	OpenPorts    pq.Int64Array `db:"open_ports"`
	Services     JSONB         `db:"services"`
	DiscoveredAt time.Time     `db:"discovered_at"`
}

func scanResultFromHost(jobID string, h scanning.HostResult) (ScanResult, error) {
	row := ScanResult{
		JobID:        jobID,
		Address:      IPAddr{h.Address},
		Hostname:     nullString(h.Hostname),
		MAC:          nullString(h.MAC),
		Status:       string(h.Status),
		LatencyMS:    h.LatencyMS,
		OpenPorts:    make(pq.Int64Array, 0, len(h.OpenPorts)),
		DiscoveredAt: h.DiscoveredAt,
	}
	for _, p := range h.OpenPorts {
		row.OpenPorts = append(row.OpenPorts, int64(p))
	}
	if len(h.Services) > 0 {
		services, err := toJSONB(h.Services)
		if err != nil {
			return ScanResult{}, fmt.Errorf("encode services: %w", err)
		}
		row.Services = services
	}
	return row, nil
}

func (r *ScanResult) toHostResult() (scanning.HostResult, error) {
	h := scanning.HostResult{
		Address:      r.Address.Addr,
		Status:       scanning.HostStatus(r.Status),
		LatencyMS:    r.LatencyMS,
		DiscoveredAt: r.DiscoveredAt,
	}
	if r.Hostname != nil {
		h.Hostname = *r.Hostname
	}
	if r.MAC != nil {
		h.MAC = *r.MAC
	}
	if len(r.OpenPorts) > 0 {
		h.OpenPorts = make([]int, len(r.OpenPorts))
		for i, p := range r.OpenPorts {
			h.OpenPorts[i] = int(p)
		}
	}
	if err := r.Services.decode(&h.Services); err != nil {
		return scanning.HostResult{}, fmt.Errorf("decode services: %w", err)
	}
	return h, nil
}

// IPRecord is a row of ip_records, the host inventory.
type IPRecord struct {
	Address        IPAddr    `db:"address"`
	Hostname       *string   `db:"hostname"`
	Status         string    `db:"status"`
	PingStatus     string    `db:"ping_status"`
	Source         string    `db:"source"`
	ExternalRuleID *string   `db:"external_rule_id"`
	Description    *string   `db:"description"`
	LastSeen       time.Time `db:"last_seen"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r *IPRecord) toHostRecord() jobs.HostRecord {
	rec := jobs.HostRecord{
		Address:   r.Address.Addr,
		Source:    jobs.HostSource(r.Source),
		LastSeen:  r.LastSeen,
		FirstSeen: r.CreatedAt,
	}
	if r.Hostname != nil {
		rec.Hostname = *r.Hostname
	}
	if r.ExternalRuleID != nil {
		rec.RuleID = *r.ExternalRuleID
	}
	if r.Description != nil {
		rec.Description = *r.Description
	}
	return rec
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
