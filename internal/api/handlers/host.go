// Package handlers provides HTTP request handlers for the ipsweep API.
// This file implements the host inventory endpoint.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/anstrom/ipsweep/internal/jobs"
	"github.com/anstrom/ipsweep/internal/logging"
)

// Host listing limits.
const (
	defaultHostLimit = 1000
	maxHostLimit     = 10000
)

// HostHandler handles host inventory endpoints.
type HostHandler struct {
	hosts  jobs.HostLister
	logger *logging.Logger
}

// NewHostHandler creates a new host handler.
func NewHostHandler(hosts jobs.HostLister, logger *logging.Logger) *HostHandler {
	return &HostHandler{
		hosts:  hosts,
		logger: logger.WithComponent("api.host"),
	}
}

// HostListResponse is the host inventory page.
type HostListResponse struct {
	Hosts []jobs.HostRecord `json:"hosts"`
	Count int               `json:"count"`
	Limit int               `json:"limit"`
}

// ListHosts handles GET /api/v1/hosts.
//
// @Summary List inventory hosts
// @Description Returns host records ordered by address, optionally filtered by source
// @Tags Hosts
// @Produce json
// @Param limit query int false "Maximum records" default(1000)
// @Param source query string false "scan or external"
// @Success 200 {object} handlers.HostListResponse
// @Failure 400 {object} handlers.ErrorResponse
// @Router /hosts [get]
func (h *HostHandler) ListHosts(w http.ResponseWriter, r *http.Request) {
	limit, err := getQueryParamInt(r, "limit", defaultHostLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if limit < 1 || limit > maxHostLimit {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and %d", maxHostLimit))
		return
	}

	source := jobs.HostSource(r.URL.Query().Get("source"))
	switch source {
	case "", jobs.SourceScan, jobs.SourceExternal:
	default:
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid source %q", source))
		return
	}

	records, err := h.hosts.ListHostRecords(r.Context(), limit)
	if err != nil {
		handleServiceError(w, r, err, "list hosts", h.logger)
		return
	}

	out := make([]jobs.HostRecord, 0, len(records))
	for _, rec := range records {
		if source == "" || rec.Source == source {
			out = append(out, rec)
		}
	}
	writeJSON(w, r, http.StatusOK, HostListResponse{Hosts: out, Count: len(out), Limit: limit})
}
