package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ipsweep.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "full config",
			content: `
daemon:
  pid_file: /tmp/ipsweep.pid
  shutdown_timeout: 10s
database:
  host: db.internal
  database: ipsweep
  username: sweeper
engine:
  liveness_method: tcp
  liveness_ports: [22, 443]
  extra_services:
    9100: jetdirect
api:
  port: 9090
logging:
  level: debug
  format: json
discovery:
  enabled: true
  zabbix:
    url: http://zabbix.internal/zabbix
    username: Admin
  rule_ids: ["7"]
  interval: 30m
schedules:
  - name: nightly
    cron: "0 2 * * *"
    params:
      ranges: ["10.0.0.0/24"]
      probe_timeout: 2s
`,
		},
		{name: "empty file keeps defaults", content: ""},
		{name: "invalid yaml", content: "daemon: [", wantErr: "failed to parse config"},
		{name: "bad log level", content: "logging:\n  level: loud\n", wantErr: "invalid log level"},
		{name: "bad liveness method", content: "engine:\n  liveness_method: carrier-pigeon\n", wantErr: "unknown liveness method"},
		{name: "bad api port", content: "api:\n  port: 70000\n", wantErr: "API port"},
		{name: "partial database", content: "database:\n  database: ipsweep\n  host: \"\"\n", wantErr: "database host"},
		{
			name:    "discovery without rules",
			content: "discovery:\n  enabled: true\n  zabbix:\n    url: http://zbx\n",
			wantErr: "rule id",
		},
		{
			name:    "bad cron",
			content: "schedules:\n  - name: x\n    cron: \"every tuesday\"\n    params:\n      ranges: [\"10.0.0.1\"]\n",
			wantErr: "invalid cron expression",
		},
		{
			name:    "schedule without ranges",
			content: "schedules:\n  - name: x\n    cron: \"@hourly\"\n",
			wantErr: "schedule \"x\"",
		},
		{
			name: "duplicate schedule names",
			content: `
schedules:
  - {name: a, cron: "@hourly", params: {ranges: ["10.0.0.1"]}}
  - {name: a, cron: "@daily", params: {ranges: ["10.0.0.2"]}}
`,
			wantErr: "duplicate schedule",
		},
		{name: "plain text api key", content: "api:\n  api_key_hashes: [\"secret\"]\n", wantErr: "bcrypt"},
		{
			name:    "discovery without url",
			content: "discovery:\n  enabled: true\n  rule_ids: [\"7\"]\n",
			wantErr: "discovery.zabbix.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.content))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				if !errors.IsCode(err, errors.CodeConfiguration) {
					t.Errorf("expected configuration error code, got %s", errors.GetCode(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg == nil {
				t.Fatal("expected config")
			}
		})
	}
}

func TestLoadFullConfigValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
database:
  host: db.internal
  database: ipsweep
  username: sweeper
engine:
  extra_services:
    9100: jetdirect
schedules:
  - name: nightly
    cron: "0 2 * * *"
    params:
      ranges: ["10.0.0.0/24"]
      probe_timeout: 2s
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.UseDatabase() {
		t.Error("expected database to be used")
	}
	if cfg.Engine.ExtraServices[9100] != "jetdirect" {
		t.Errorf("expected extra service for 9100, got %v", cfg.Engine.ExtraServices)
	}
	if len(cfg.Schedules) != 1 {
		t.Fatalf("expected 1 schedule, got %d", len(cfg.Schedules))
	}
	if got := time.Duration(cfg.Schedules[0].Params.ProbeTimeout); got != 2*time.Second {
		t.Errorf("expected probe timeout 2s, got %v", got)
	}
	// Unset fields keep their defaults.
	if cfg.API.Port != 8080 {
		t.Errorf("expected default API port, got %d", cfg.API.Port)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UseDatabase() {
		t.Error("defaults must not require a database")
	}
	if cfg.Logging.Level != logging.LevelInfo {
		t.Errorf("expected info level, got %s", cfg.Logging.Level)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateAPIDisabledSkipsChecks(t *testing.T) {
	cfg := Default()
	cfg.API.Enabled = false
	cfg.API.Port = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected disabled API to skip validation, got %v", err)
	}

	cfg.API.Enabled = true
	cfg.API.TLS.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for enabled API with invalid port")
	}
	cfg.API.Port = 8443
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "TLS") {
		t.Fatalf("expected TLS error, got %v", err)
	}
}

func TestValidateStaleHostAfter(t *testing.T) {
	cfg := Default()
	if cfg.Engine.StaleHostAfter <= 0 {
		t.Fatalf("expected a positive default stale threshold, got %s", cfg.Engine.StaleHostAfter)
	}
	cfg.Engine.StaleHostAfter = -time.Second
	err := cfg.Validate()
	if !errors.IsCode(err, errors.CodeValidation) || !strings.Contains(err.Error(), "engine.stale_host_after") {
		t.Fatalf("expected validation error for engine.stale_host_after, got %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ipsweep.yaml")
	cfg := Default()
	cfg.Engine.LivenessMethod = "nmap"
	cfg.Schedules = []ScheduleConfig{{Name: "hourly", Cron: "@hourly"}}
	cfg.Schedules[0].Params.Ranges = []string{"192.168.1.0/30"}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != configFilePerm {
		t.Errorf("expected mode %o, got %o", configFilePerm, info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Engine.LivenessMethod != "nmap" {
		t.Errorf("expected nmap liveness, got %q", loaded.Engine.LivenessMethod)
	}
	if len(loaded.Schedules) != 1 || loaded.Schedules[0].Params.Ranges[0] != "192.168.1.0/30" {
		t.Errorf("schedule did not round trip: %+v", loaded.Schedules)
	}
}

func TestGetAPIAddress(t *testing.T) {
	cfg := Default()
	cfg.API.ListenAddr = "0.0.0.0"
	cfg.API.Port = 9000
	if got := cfg.GetAPIAddress(); got != "0.0.0.0:9000" {
		t.Errorf("expected 0.0.0.0:9000, got %s", got)
	}
}
