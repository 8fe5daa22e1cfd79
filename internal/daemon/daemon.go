// Package daemon runs ipsweep as a long-lived service. It wires the store,
// the task manager, the API server, the scheduler and the periodic external
// import together and shuts them down in order.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/anstrom/ipsweep/internal/api"
	"github.com/anstrom/ipsweep/internal/api/handlers"
	"github.com/anstrom/ipsweep/internal/config"
	"github.com/anstrom/ipsweep/internal/db"
	"github.com/anstrom/ipsweep/internal/discovery"
	"github.com/anstrom/ipsweep/internal/jobs"
	"github.com/anstrom/ipsweep/internal/logging"
	"github.com/anstrom/ipsweep/internal/metrics"
	"github.com/anstrom/ipsweep/internal/scanning"
	"github.com/anstrom/ipsweep/internal/scheduler"
)

const healthCheckInterval = 30 * time.Second

// File permission constants.
const (
	DefaultDirPermissions  = 0o750
	DefaultFilePermissions = 0o600
)

// Daemon represents the main daemon process.
type Daemon struct {
	config  *config.Config
	logger  *logging.Logger
	pidFile string

	database  *db.DB
	store     Storage
	metrics   *metrics.Metrics
	manager   *jobs.Manager
	hub       *handlers.WebSocketHandler
	importer  *discovery.Importer
	scheduler *scheduler.Scheduler
	apiServer *api.Server

	mu      sync.RWMutex
	running bool
}

// New creates a new daemon instance.
func New(cfg *config.Config, logger *logging.Logger) *Daemon {
	if logger == nil {
		logger = logging.Default()
	}
	return &Daemon{
		config:  cfg,
		logger:  logger.WithComponent("daemon"),
		pidFile: cfg.Daemon.PIDFile,
	}
}

// Run builds the logger from cfg and runs a daemon until ctx is cancelled
// or SIGINT/SIGTERM arrives.
func Run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.SetDefault(logger)
	return New(cfg, logger).Run(ctx)
}

// Run starts every component and blocks until shutdown. Components are
// stopped within the configured shutdown timeout.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("Starting ipsweep daemon")

	if err := d.config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if dir := d.config.Daemon.WorkDir; dir != "" {
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			return fmt.Errorf("failed to create working directory: %w", err)
		}
		if err := os.Chdir(dir); err != nil {
			return fmt.Errorf("failed to change to working directory: %w", err)
		}
	}

	if err := d.createPIDFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer d.removePIDFile()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	d.watchStatusSignal(ctx)

	if err := d.init(ctx); err != nil {
		d.shutdown()
		return err
	}

	if err := d.scheduler.Start(); err != nil {
		d.shutdown()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	apiErr := make(chan error, 1)
	if d.apiServer != nil {
		go func() { apiErr <- d.apiServer.Start(ctx) }()
	}

	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
	d.logger.Info("Daemon started", "pid", os.Getpid(), "database", d.database != nil,
		"api", d.apiServer != nil, "schedules", len(d.scheduler.Entries()))

	var runErr error
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Shutdown signal received")
			break loop
		case err := <-apiErr:
			if err != nil {
				runErr = err
				d.logger.Error("API server failed", "error", err)
			}
			break loop
		case <-ticker.C:
			d.performHealthCheck(ctx)
		}
	}

	d.shutdown()
	return runErr
}

// init creates every component. Nothing is started yet.
func (d *Daemon) init(ctx context.Context) error {
	store, database, err := OpenStore(ctx, d.config, d.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	d.store, d.database = store, database

	d.metrics = metrics.New()
	d.hub = handlers.NewWebSocketHandler(d.logger, d.config.API.CORS.AllowedOrigins)

	scanner, err := NewScanner(d.config.Engine)
	if err != nil {
		return err
	}
	d.manager = jobs.NewManager(store,
		jobs.NewEngineFactory(scanner, scanning.WithLogger(d.logger), scanning.WithRecorder(d.metrics),
			scanning.WithStaleAfter(d.config.Engine.StaleHostAfter)),
		jobs.WithLogger(d.logger),
		jobs.WithListener(d.metrics),
		jobs.WithListener(d.hub),
		jobs.WithSaveTimeout(d.config.Engine.SaveTimeout),
		jobs.WithRecentLimit(d.config.Engine.RecentJobs),
	)

	d.importer = NewImporter(d.config.Discovery, store, d.metrics, d.logger)

	d.scheduler = scheduler.New(d.manager, scheduler.WithLogger(d.logger))
	for _, sc := range d.config.Schedules {
		if err := d.scheduler.AddScan(sc.Name, sc.Cron, sc.Params); err != nil {
			return fmt.Errorf("schedule %q: %w", sc.Name, err)
		}
	}
	if d.importer != nil && d.config.Discovery.Interval > 0 {
		if err := d.scheduler.AddImport("external-discovery", d.config.Discovery.Interval,
			d.importer, d.config.Discovery.RuleIDs); err != nil {
			return fmt.Errorf("discovery schedule: %w", err)
		}
	}

	if !d.config.API.Enabled {
		d.logger.Info("API server disabled")
		return nil
	}
	deps := handlers.Dependencies{
		Jobs:      d.manager,
		Hosts:     store,
		WebSocket: d.hub,
	}
	if d.importer != nil {
		deps.Importer = d.importer
	}
	if d.database != nil {
		deps.Database = d.database
	}
	srv, err := api.New(d.config.API, deps, d.metrics, d.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize API server: %w", err)
	}
	d.apiServer = srv
	return nil
}

// shutdown stops components in dependency order: no new ticks, no new
// requests, then running jobs, then the database.
func (d *Daemon) shutdown() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	timeout := d.config.Daemon.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if d.scheduler != nil {
		if err := d.scheduler.Stop(ctx); err != nil {
			d.logger.Warn("Scheduler stop did not complete", "error", err)
		}
	}
	if d.apiServer != nil {
		if err := d.apiServer.Stop(ctx); err != nil {
			d.logger.Warn("API server stop did not complete", "error", err)
		}
	} else if d.hub != nil {
		_ = d.hub.Close()
	}
	if d.manager != nil {
		if err := d.manager.Shutdown(ctx); err != nil {
			d.logger.Warn("Job manager did not stop in time", "error", err)
		}
	}
	if d.database != nil {
		if err := d.database.Close(); err != nil {
			d.logger.ErrorDatabase("Error closing database", err)
		}
	}
	d.logger.Info("Daemon stopped")
}

// performHealthCheck logs database connectivity problems.
func (d *Daemon) performHealthCheck(ctx context.Context) {
	if d.database == nil {
		return
	}
	if err := d.database.Ping(ctx); err != nil {
		d.logger.ErrorDatabase("Database health check failed", err)
	}
}

// watchStatusSignal logs a status dump on SIGUSR1 until ctx ends.
func (d *Daemon) watchStatusSignal(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGUSR1)
	go func() {
		defer signal.Stop(sigChan)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigChan:
				d.dumpStatus()
			}
		}
	}()
}

// dumpStatus logs active jobs and schedule state.
func (d *Daemon) dumpStatus() {
	if !d.IsRunning() {
		return
	}
	active := d.manager.ListActive()
	d.logger.Info("Daemon status",
		"pid", os.Getpid(),
		"uptime", d.metrics.Uptime().Round(time.Second).String(),
		"active_jobs", len(active),
		"job_ids", strings.Join(active, ","))
	for _, e := range d.scheduler.Entries() {
		d.logger.Info("Schedule status", "name", e.Name, "kind", e.Kind, "spec", e.Spec,
			"runs", e.Runs, "skipped", e.Skipped, "next_run", e.NextRun)
	}
}

// createPIDFile writes the PID file, refusing when another live process
// owns it.
func (d *Daemon) createPIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(d.pidFile), DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}
	if err := d.checkExistingPID(); err != nil {
		return err
	}
	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	d.logger.Debug("Created PID file", "path", d.pidFile, "pid", pid)
	return nil
}

func (d *Daemon) removePIDFile() {
	if d.pidFile == "" {
		return
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("Error removing PID file", "path", d.pidFile, "error", err)
	}
}

// checkExistingPID fails when the PID file names a running process and
// removes it when stale.
func (d *Daemon) checkExistingPID() error {
	data, err := os.ReadFile(d.pidFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read existing PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err == nil && pid != os.Getpid() && isProcessRunning(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}
	_ = os.Remove(d.pidFile)
	return nil
}

func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// IsRunning reports whether Run is between startup and shutdown.
func (d *Daemon) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// APIAddress returns the bound API address, or "" before it listens.
func (d *Daemon) APIAddress() string {
	if d.apiServer == nil {
		return ""
	}
	return d.apiServer.Addr()
}
