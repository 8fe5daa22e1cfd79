// Package handlers provides HTTP request handlers for the ipsweep API.
// This file implements the scan job endpoints: submission, status,
// cancellation and result export.
package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"

	"github.com/anstrom/ipsweep/internal/api/middleware"
	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/export"
	"github.com/anstrom/ipsweep/internal/jobs"
	"github.com/anstrom/ipsweep/internal/logging"
)

// JobService is the part of the task manager the API drives.
type JobService interface {
	Submit(ctx context.Context, params jobs.Params) (string, error)
	GetStatus(ctx context.Context, id string) (jobs.Status, error)
	Cancel(ctx context.Context, id string) bool
	ListActive() []string
}

// ScanHandler handles scan job endpoints.
type ScanHandler struct {
	jobs   JobService
	logger *logging.Logger
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(service JobService, logger *logging.Logger) *ScanHandler {
	return &ScanHandler{
		jobs:   service,
		logger: logger.WithComponent("api.scan"),
	}
}

// SubmitResponse acknowledges an accepted job.
type SubmitResponse struct {
	JobID     string     `json:"job_id"`
	State     jobs.State `json:"state"`
	StatusURL string     `json:"status_url"`
}

// ActiveJobsResponse lists running jobs.
type ActiveJobsResponse struct {
	Jobs  []string `json:"jobs"`
	Count int      `json:"count"`
}

// SubmitJob handles POST /api/v1/jobs.
//
// @Summary Submit a scan job
// @Description Validates the parameters and starts an asynchronous scan
// @Tags Jobs
// @Accept json
// @Produce json
// @Param params body jobs.Params true "Job parameters"
// @Success 202 {object} handlers.SubmitResponse
// @Failure 400 {object} handlers.ErrorResponse
// @Failure 409 {object} handlers.ErrorResponse
// @Router /jobs [post]
func (h *ScanHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var params jobs.Params
	if err := parseJSON(r, &params); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	id, err := h.jobs.Submit(r.Context(), params)
	if err != nil {
		if errors.IsConflict(err) {
			h.logger.Warn("Rejected job with an active id", "request_id", middleware.GetRequestID(r), "job_id", params.JobID)
		}
		handleServiceError(w, r, err, "submit job", h.logger)
		return
	}

	h.logger.Info("Job accepted", "request_id", middleware.GetRequestID(r), "job_id", id)
	w.Header().Set("Location", "/api/v1/jobs/"+id)
	writeJSON(w, r, http.StatusAccepted, SubmitResponse{
		JobID:     id,
		State:     jobs.StatePending,
		StatusURL: "/api/v1/jobs/" + id,
	})
}

// ListJobs handles GET /api/v1/jobs.
//
// @Summary List active jobs
// @Tags Jobs
// @Produce json
// @Success 200 {object} handlers.ActiveJobsResponse
// @Router /jobs [get]
func (h *ScanHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ids := slices.Clone(h.jobs.ListActive())
	if ids == nil {
		ids = []string{}
	}
	sort.Strings(ids)
	writeJSON(w, r, http.StatusOK, ActiveJobsResponse{Jobs: ids, Count: len(ids)})
}

// GetJob handles GET /api/v1/jobs/{id}.
//
// @Summary Get job status
// @Description Returns progress for active jobs and results for finished ones
// @Tags Jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} jobs.Status
// @Failure 404 {object} handlers.ErrorResponse
// @Router /jobs/{id} [get]
func (h *ScanHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := extractStringFromPath(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	status, err := h.jobs.GetStatus(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err, "get job status", h.logger)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// CancelJob handles DELETE /api/v1/jobs/{id}.
//
// @Summary Cancel a job
// @Tags Jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} jobs.Status
// @Failure 404 {object} handlers.ErrorResponse
// @Router /jobs/{id} [delete]
func (h *ScanHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := extractStringFromPath(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if !h.jobs.Cancel(r.Context(), id) {
		writeError(w, r, http.StatusNotFound, errors.NewJobError(errors.CodeNotFound, "job is not active", id))
		return
	}
	h.logger.Info("Job cancelled via API", "request_id", middleware.GetRequestID(r), "job_id", id)

	status, err := h.jobs.GetStatus(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err, "get job status", h.logger)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// ExportJob handles GET /api/v1/jobs/{id}/export.
//
// @Summary Export job results
// @Description Renders the results of a completed job as JSON, CSV or a text table
// @Tags Jobs
// @Produce json
// @Produce text/csv
// @Param id path string true "Job ID"
// @Param format query string false "json, csv or table" default(json)
// @Success 200 {array} scanning.HostResult
// @Failure 400 {object} handlers.ErrorResponse
// @Failure 404 {object} handlers.ErrorResponse
// @Failure 409 {object} handlers.ErrorResponse
// @Router /jobs/{id}/export [get]
func (h *ScanHandler) ExportJob(w http.ResponseWriter, r *http.Request) {
	id, err := extractStringFromPath(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = export.FormatJSON
	}
	if !slices.Contains(export.Formats, format) {
		writeError(w, r, http.StatusBadRequest, errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("unsupported export format %q (want one of %s)", format, strings.Join(export.Formats, ", ")),
			"format", format))
		return
	}

	status, err := h.jobs.GetStatus(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err, "get job status", h.logger)
		return
	}
	if status.State != jobs.StateCompleted {
		writeError(w, r, http.StatusConflict, errors.NewJobError(errors.CodeConflict,
			fmt.Sprintf("job is %s; only completed jobs can be exported", status.State), id))
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, status.Results); err != nil {
		handleServiceError(w, r, err, "export job results", h.logger)
		return
	}
	w.Header().Set("Content-Type", export.ContentType(format))
	if format == export.FormatCSV {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".csv"))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
