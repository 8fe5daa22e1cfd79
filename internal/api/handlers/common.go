// Package handlers provides HTTP request handlers for the ipsweep API.
// This file contains the response and request helpers shared by every
// handler.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/anstrom/ipsweep/internal/api/middleware"
	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/logging"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// getQueryParamInt extracts integer query parameter with default value.
func getQueryParamInt(r *http.Request, key string, defaultValue int) (int, error) {
	if value := r.URL.Query().Get(key); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid %s parameter: %q", key, value)
		}
		return n, nil
	}
	return defaultValue, nil
}

// extractStringFromPath extracts the named path parameter.
func extractStringFromPath(r *http.Request, key string) (string, error) {
	value, exists := mux.Vars(r)[key]
	if !exists || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s not provided", key)
	}
	return value, nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error("Failed to encode JSON response",
			"request_id", middleware.GetRequestID(r),
			"error", err)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r),
	}
	if code := errors.GetCode(err); code != errors.CodeUnknown {
		response.Code = string(code)
	}
	writeJSON(w, r, statusCode, response)
}

// statusForError maps an error code to an HTTP status.
func statusForError(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeConflict:
		return http.StatusConflict
	case errors.CodeValidation, errors.CodeTargetInvalid, errors.CodeNoTargets, errors.CodeConfiguration:
		return http.StatusBadRequest
	case errors.CodeManagerShutdown, errors.CodeServiceUnavailable, errors.CodeDatabaseConnection:
		return http.StatusServiceUnavailable
	case errors.CodeDatabaseTimeout, errors.CodeTimeout, errors.CodeServiceTimeout:
		return http.StatusGatewayTimeout
	case errors.CodeDiscoveryAuth, errors.CodeDiscoveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleServiceError logs server-side failures and writes the matching
// response. Internal errors are not echoed to the client.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error, operation string, logger *logging.Logger) {
	status := statusForError(err)
	if status < http.StatusInternalServerError {
		writeError(w, r, status, err)
		return
	}

	logger.Error(fmt.Sprintf("Failed to %s", operation),
		"request_id", middleware.GetRequestID(r),
		"error", err)
	if status == http.StatusInternalServerError {
		err = fmt.Errorf("failed to %s", operation)
	}
	writeError(w, r, status, err)
}

// parseJSON decodes the request body into dest, rejecting unknown fields
// and trailing data.
func parseJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.NewConfigFieldError(errors.CodeValidation, "request body is empty", "body", nil)
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("request body too large (max %d bytes)", tooLarge.Limit), "body", nil)
		}
		return errors.WrapConfigError(errors.CodeValidation, fmt.Sprintf("invalid JSON: %v", err), err)
	}
	if decoder.More() {
		return errors.NewConfigFieldError(errors.CodeValidation, "request body must hold a single JSON object", "body", nil)
	}
	return nil
}
