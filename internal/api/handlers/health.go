// Package handlers provides HTTP request handlers for the ipsweep API.
// This file implements health check and version endpoints.
package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/anstrom/ipsweep/internal/logging"
)

// DatabasePinger defines the interface for database health checking.
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

// ActiveCounter reports how many jobs are running.
type ActiveCounter interface {
	ListActive() []string
}

const healthCheckTimeout = 5 * time.Second

// Status constants.
const (
	StatusHealthy       = "healthy"
	StatusUnhealthy     = "unhealthy"
	StatusNotConfigured = "not configured"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	database  DatabasePinger
	jobs      ActiveCounter
	logger    *logging.Logger
	startTime time.Time
}

// NewHealthHandler creates a new health handler. database is nil when the
// daemon runs on the in-memory store.
func NewHealthHandler(database DatabasePinger, active ActiveCounter, logger *logging.Logger) *HealthHandler {
	return &HealthHandler{
		database:  database,
		jobs:      active,
		logger:    logger.WithComponent("api.health"),
		startTime: time.Now(),
	}
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Uptime     string            `json:"uptime"`
	ActiveJobs int               `json:"active_jobs"`
	Checks     map[string]string `json:"checks"`
}

// VersionResponse represents version information.
type VersionResponse struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	BuildTime string    `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Timestamp time.Time `json:"timestamp"`
}

// Health performs a health check.
//
// @Summary Health check
// @Description Reports daemon uptime, active jobs and database connectivity
// @Tags System
// @Produce json
// @Success 200 {object} handlers.HealthResponse
// @Failure 503 {object} handlers.HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    make(map[string]string),
	}
	if h.jobs != nil {
		response.ActiveJobs = len(h.jobs.ListActive())
	}

	if h.database != nil {
		if err := h.database.Ping(ctx); err != nil {
			response.Status = StatusUnhealthy
			response.Checks["database"] = "failed: " + err.Error()
			h.logger.Warn("Database health check failed", "error", err)
		} else {
			response.Checks["database"] = "ok"
		}
	} else {
		response.Checks["database"] = StatusNotConfigured
	}

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, r, statusCode, response)
}

// Version provides version information.
//
// @Summary Build version
// @Tags System
// @Produce json
// @Success 200 {object} handlers.VersionResponse
// @Router /version [get]
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, VersionResponse{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		Timestamp: time.Now().UTC(),
	})
}

// Build information, set through SetBuildInfo from ldflags values.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// SetBuildInfo sets build information (called by main package).
func SetBuildInfo(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
}
