// Package handlers provides HTTP request handlers for the ipsweep API.
// This file implements the on-demand external discovery import.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/anstrom/ipsweep/internal/api/middleware"
	"github.com/anstrom/ipsweep/internal/discovery"
	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/logging"
)

// Importer runs one external discovery import.
type Importer interface {
	Import(ctx context.Context, ruleID string) (discovery.ImportSummary, error)
}

// DiscoveryHandler handles external discovery endpoints.
type DiscoveryHandler struct {
	importer Importer
	logger   *logging.Logger
}

// NewDiscoveryHandler creates a new discovery handler. importer may be nil
// when no external source is configured.
func NewDiscoveryHandler(importer Importer, logger *logging.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		importer: importer,
		logger:   logger.WithComponent("api.discovery"),
	}
}

// ImportRequest names the discovery rule to import.
type ImportRequest struct {
	RuleID string `json:"rule_id"`
}

// ImportExternal handles POST /api/v1/discovery/import.
//
// @Summary Import externally discovered hosts
// @Description Fetches the hosts found by an external discovery rule and upserts them into the inventory
// @Tags Discovery
// @Accept json
// @Produce json
// @Param request body handlers.ImportRequest true "Rule to import"
// @Success 200 {object} discovery.ImportSummary
// @Failure 400 {object} handlers.ErrorResponse
// @Failure 502 {object} handlers.ErrorResponse
// @Failure 503 {object} handlers.ErrorResponse
// @Router /discovery/import [post]
func (h *DiscoveryHandler) ImportExternal(w http.ResponseWriter, r *http.Request) {
	if h.importer == nil {
		writeError(w, r, http.StatusServiceUnavailable,
			errors.WrapDiscoveryError(errors.CodeServiceUnavailable, "external discovery is not configured", "", nil))
		return
	}

	var req ImportRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	req.RuleID = strings.TrimSpace(req.RuleID)
	if req.RuleID == "" {
		writeError(w, r, http.StatusBadRequest,
			errors.NewConfigFieldError(errors.CodeValidation, "rule_id is required", "rule_id", nil))
		return
	}

	summary, err := h.importer.Import(r.Context(), req.RuleID)
	if err != nil {
		handleServiceError(w, r, err, "import external hosts", h.logger)
		return
	}
	h.logger.Info("External import via API",
		"request_id", middleware.GetRequestID(r), "rule_id", req.RuleID, "upserted", summary.Upserted)
	writeJSON(w, r, http.StatusOK, summary)
}
