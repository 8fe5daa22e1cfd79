// Package config loads and validates the ipsweep daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/ipsweep/internal/db"
	"github.com/anstrom/ipsweep/internal/discovery"
	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/jobs"
	"github.com/anstrom/ipsweep/internal/liveness"
	"github.com/anstrom/ipsweep/internal/logging"
	"github.com/anstrom/ipsweep/internal/ports"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600
	maxPort        = 65535
)

// Config represents the complete daemon configuration
type Config struct {
	Daemon DaemonConfig `yaml:"daemon" json:"daemon"`

	// Database is optional. When it is not configured, jobs and hosts are
	// kept in memory.
	Database db.Config `yaml:"database" json:"database"`

	Engine    EngineConfig     `yaml:"engine" json:"engine"`
	API       APIConfig        `yaml:"api" json:"api"`
	Logging   logging.Config   `yaml:"logging" json:"logging"`
	Discovery DiscoveryConfig  `yaml:"discovery" json:"discovery"`
	Schedules []ScheduleConfig `yaml:"schedules" json:"schedules"`
}

// DaemonConfig holds daemon-specific settings
type DaemonConfig struct {
	// PID file location; empty disables it
	PIDFile string `yaml:"pid_file" json:"pid_file"`

	// Working directory
	WorkDir string `yaml:"work_dir" json:"work_dir"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// EngineConfig selects and tunes the probes used by every job.
type EngineConfig struct {
	// Liveness method: exec, icmp, icmp-raw, nmap or tcp
	LivenessMethod string `yaml:"liveness_method" json:"liveness_method"`

	// Ports knocked by the tcp liveness method
	LivenessPorts []int `yaml:"liveness_ports" json:"liveness_ports"`

	// Nameserver for reverse lookups ("host:port"); empty uses resolv.conf
	DNSServer  string        `yaml:"dns_server" json:"dns_server"`
	DNSTimeout time.Duration `yaml:"dns_timeout" json:"dns_timeout"`

	SNMPCommunity string `yaml:"snmp_community" json:"snmp_community"`

	// Classifier settings
	ClassifyTimeout time.Duration  `yaml:"classify_timeout" json:"classify_timeout"`
	TLSSniff        bool           `yaml:"tls_sniff" json:"tls_sniff"`
	ExtraServices   map[int]string `yaml:"extra_services" json:"extra_services"`

	// Host scans holding a slot longer than this are logged as stale
	StaleHostAfter time.Duration `yaml:"stale_host_after" json:"stale_host_after"`

	// Deadline for persisting a job's final state
	SaveTimeout time.Duration `yaml:"save_timeout" json:"save_timeout"`

	// Number of finished jobs whose status stays queryable without a store
	RecentJobs int `yaml:"recent_jobs" json:"recent_jobs"`
}

// APIConfig holds API server settings
type APIConfig struct {
	// Enable API server
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Listen port
	Port int `yaml:"port" json:"port"`

	TLS TLSConfig `yaml:"tls" json:"tls"`

	// bcrypt hashes of accepted API keys; empty disables authentication
	APIKeyHashes []string `yaml:"api_key_hashes" json:"-"`

	CORS CORSConfig `yaml:"cors" json:"cors"`

	// Request timeout
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// Maximum request size
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size"`
}

// TLSConfig holds TLS settings
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
}

// DiscoveryConfig enables the periodic import from Zabbix network discovery.
type DiscoveryConfig struct {
	Enabled bool                   `yaml:"enabled" json:"enabled"`
	Zabbix  discovery.ZabbixConfig `yaml:"zabbix" json:"zabbix"`

	// Discovery rule ids imported on every tick
	RuleIDs []string `yaml:"rule_ids" json:"rule_ids"`

	// Interval between imports; zero imports once at startup only
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// ScheduleConfig declares one recurring scan.
type ScheduleConfig struct {
	Name   string      `yaml:"name" json:"name"`
	Cron   string      `yaml:"cron" json:"cron"`
	Params jobs.Params `yaml:"params" json:"params"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			PIDFile:         "",
			WorkDir:         "",
			ShutdownTimeout: 30 * time.Second,
		},
		Database: db.DefaultConfig(),
		Engine: EngineConfig{
			LivenessMethod:  liveness.MethodExec,
			LivenessPorts:   []int{22, 80, 443, 445, 3389},
			DNSTimeout:      2 * time.Second,
			SNMPCommunity:   "public",
			ClassifyTimeout: 2 * time.Second,
			StaleHostAfter:  2 * time.Minute,
			SaveTimeout:     10 * time.Second,
			RecentJobs:      256,
		},
		API: APIConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1",
			Port:       8080,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
			},
			RequestTimeout: 30 * time.Second,
			MaxRequestSize: 1024 * 1024, // 1MB
		},
		Logging: logging.DefaultConfig(),
		Discovery: DiscoveryConfig{
			Zabbix:   discovery.ZabbixConfig{Timeout: 15 * time.Second},
			Interval: time.Hour,
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func invalid(field, format string, args ...interface{}) error {
	return errors.NewConfigFieldError(errors.CodeConfiguration, fmt.Sprintf(format, args...), field, nil)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Daemon.ShutdownTimeout <= 0 {
		return invalid("daemon.shutdown_timeout", "shutdown timeout must be positive")
	}

	// A partially configured database is a mistake; an empty one means memory.
	if (c.Database.Database != "" || c.Database.Username != "") && !c.Database.Configured() {
		return invalid("database", "database host, name and username are all required")
	}

	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateDiscovery(); err != nil {
		return err
	}
	return c.validateSchedules()
}

func (c *Config) validateEngine() error {
	e := c.Engine
	if _, err := liveness.New(e.LivenessMethod); err != nil {
		return invalid("engine.liveness_method", "%v", err)
	}
	for _, p := range e.LivenessPorts {
		if !ports.ValidPort(p) {
			return invalid("engine.liveness_ports", "invalid port %d", p)
		}
	}
	for p := range e.ExtraServices {
		if !ports.ValidPort(p) {
			return invalid("engine.extra_services", "invalid port %d", p)
		}
	}
	if e.StaleHostAfter < 0 {
		return errors.ErrConfigInvalid("engine.stale_host_after", e.StaleHostAfter)
	}
	if e.RecentJobs < 0 {
		return invalid("engine.recent_jobs", "recent jobs must not be negative")
	}
	return nil
}

func (c *Config) validateAPI() error {
	if !c.API.Enabled {
		return nil
	}
	if c.API.Port <= 0 || c.API.Port > maxPort {
		return invalid("api.port", "API port must be between 1 and %d", maxPort)
	}
	if c.API.ListenAddr == "" {
		return invalid("api.listen_addr", "API listen address is required when API is enabled")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		return invalid("api.tls", "TLS certificate and key files are required when TLS is enabled")
	}
	for _, h := range c.API.APIKeyHashes {
		if !strings.HasPrefix(h, "$2") {
			return invalid("api.api_key_hashes", "API keys must be bcrypt hashes")
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return invalid("logging.level", "invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case logging.FormatText, logging.FormatJSON:
	default:
		return invalid("logging.format", "invalid log format: %s", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateDiscovery() error {
	if !c.Discovery.Enabled {
		return nil
	}
	if c.Discovery.Zabbix.URL == "" {
		return errors.ErrConfigMissing("discovery.zabbix.url")
	}
	if len(c.Discovery.RuleIDs) == 0 {
		return invalid("discovery.rule_ids", "at least one discovery rule id is required")
	}
	if c.Discovery.Interval < 0 {
		return invalid("discovery.interval", "discovery interval must not be negative")
	}
	return nil
}

func (c *Config) validateSchedules() error {
	seen := make(map[string]bool, len(c.Schedules))
	for i := range c.Schedules {
		s := &c.Schedules[i]
		field := fmt.Sprintf("schedules[%d]", i)
		if s.Name == "" {
			return invalid(field+".name", "schedule name is required")
		}
		if seen[s.Name] {
			return invalid(field+".name", "duplicate schedule %q", s.Name)
		}
		seen[s.Name] = true
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return invalid(field+".cron", "schedule %q: invalid cron expression: %v", s.Name, err)
		}
		if err := s.Params.Validate(); err != nil {
			return errors.WrapConfigError(errors.CodeConfiguration, fmt.Sprintf("schedule %q", s.Name), err)
		}
	}
	return nil
}

// UseDatabase reports whether jobs and hosts are persisted in PostgreSQL.
func (c *Config) UseDatabase() bool {
	return c.Database.Configured()
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}
