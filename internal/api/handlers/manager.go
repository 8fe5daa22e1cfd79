// Package handlers provides HTTP request handlers for the ipsweep API.
// This package implements the REST endpoints for scan jobs, the host
// inventory, external discovery and health.
package handlers

import (
	"net/http"

	"github.com/anstrom/ipsweep/internal/jobs"
	"github.com/anstrom/ipsweep/internal/logging"
)

// Dependencies are the services the handlers front.
type Dependencies struct {
	Jobs     JobService
	Hosts    jobs.HostLister
	Importer Importer       // nil without an external source
	Database DatabasePinger // nil on the in-memory store
	// WebSocket is created by the daemon before the task manager so it can
	// be registered as a job listener.
	WebSocket *WebSocketHandler
}

// HandlerManager manages all API handlers and their dependencies.
type HandlerManager struct {
	logger *logging.Logger

	health    *HealthHandler
	scan      *ScanHandler
	host      *HostHandler
	discovery *DiscoveryHandler
	websocket *WebSocketHandler
}

// New creates a new handler manager with all handler groups initialized.
func New(deps Dependencies, logger *logging.Logger) *HandlerManager {
	hm := &HandlerManager{logger: logger}
	hm.health = NewHealthHandler(deps.Database, deps.Jobs, logger)
	hm.scan = NewScanHandler(deps.Jobs, logger)
	hm.host = NewHostHandler(deps.Hosts, logger)
	hm.discovery = NewDiscoveryHandler(deps.Importer, logger)
	hm.websocket = deps.WebSocket
	if hm.websocket == nil {
		hm.websocket = NewWebSocketHandler(logger, nil)
	}
	return hm
}

// Health handles GET /health.
func (hm *HandlerManager) Health(w http.ResponseWriter, r *http.Request) {
	hm.health.Health(w, r)
}

// Version handles GET /version.
func (hm *HandlerManager) Version(w http.ResponseWriter, r *http.Request) {
	hm.health.Version(w, r)
}

// SubmitJob handles POST /api/v1/jobs.
func (hm *HandlerManager) SubmitJob(w http.ResponseWriter, r *http.Request) {
	hm.scan.SubmitJob(w, r)
}

// ListJobs handles GET /api/v1/jobs.
func (hm *HandlerManager) ListJobs(w http.ResponseWriter, r *http.Request) {
	hm.scan.ListJobs(w, r)
}

// GetJob handles GET /api/v1/jobs/{id}.
func (hm *HandlerManager) GetJob(w http.ResponseWriter, r *http.Request) {
	hm.scan.GetJob(w, r)
}

// CancelJob handles DELETE /api/v1/jobs/{id}.
func (hm *HandlerManager) CancelJob(w http.ResponseWriter, r *http.Request) {
	hm.scan.CancelJob(w, r)
}

// ExportJob handles GET /api/v1/jobs/{id}/export.
func (hm *HandlerManager) ExportJob(w http.ResponseWriter, r *http.Request) {
	hm.scan.ExportJob(w, r)
}

// ListHosts handles GET /api/v1/hosts.
func (hm *HandlerManager) ListHosts(w http.ResponseWriter, r *http.Request) {
	hm.host.ListHosts(w, r)
}

// ImportExternal handles POST /api/v1/discovery/import.
func (hm *HandlerManager) ImportExternal(w http.ResponseWriter, r *http.Request) {
	hm.discovery.ImportExternal(w, r)
}

// JobsWebSocket handles GET /api/v1/ws/jobs.
func (hm *HandlerManager) JobsWebSocket(w http.ResponseWriter, r *http.Request) {
	hm.websocket.JobsWebSocket(w, r)
}

// WebSocket returns the job feed hub.
func (hm *HandlerManager) WebSocket() *WebSocketHandler {
	return hm.websocket
}

// Close stops the websocket hub.
func (hm *HandlerManager) Close() error {
	return hm.websocket.Close()
}
