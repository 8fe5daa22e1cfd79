package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/ipsweep/internal/api/middleware"
	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/logging"
)

func createTestLogger() *logging.Logger {
	return logging.NewDiscard()
}

// withRequestID runs r through the request id middleware so handlers see
// a populated context.
func withRequestID(r *http.Request, id string) *http.Request {
	r.Header.Set(middleware.RequestIDHeader, id)
	var out *http.Request
	middleware.RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, req *http.Request) {
		out = req
	})).ServeHTTP(httptest.NewRecorder(), r)
	return out
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestGetQueryParamInt(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    int
		wantErr bool
	}{
		{"missing uses default", "", 7, false},
		{"valid", "?limit=25", 25, false},
		{"negative passes through", "?limit=-1", -1, false},
		{"not a number", "?limit=abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/hosts"+tt.query, nil)
			got, err := getQueryParamInt(req, "limit", 7)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractStringFromPath(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/jobs/abc", nil)
	_, err := extractStringFromPath(req, "id")
	assert.Error(t, err)

	req = mux.SetURLVars(req, map[string]string{"id": "abc"})
	id, err := extractStringFromPath(req, "id")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	req = mux.SetURLVars(req, map[string]string{"id": "  "})
	_, err = extractStringFromPath(req, "id")
	assert.Error(t, err)
}

func TestWriteError(t *testing.T) {
	req := withRequestID(httptest.NewRequest(http.MethodGet, "/", nil), "req-1")
	rr := httptest.NewRecorder()

	writeError(rr, req, http.StatusNotFound, errors.ErrJobNotFound("j1"))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	resp := decodeError(t, rr)
	assert.Equal(t, "Not Found", resp.Error)
	assert.Equal(t, string(errors.CodeNotFound), resp.Code)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())

	rr = httptest.NewRecorder()
	writeError(rr, req, http.StatusBadRequest, fmt.Errorf("plain"))
	assert.Empty(t, decodeError(t, rr).Code)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.ErrJobNotFound("j1"), http.StatusNotFound},
		{errors.NewScanError(errors.CodeConflict, "busy"), http.StatusConflict},
		{errors.ErrInvalidTarget("10.0.0.0/33"), http.StatusBadRequest},
		{errors.ErrNoTargets(1), http.StatusBadRequest},
		{errors.NewScanError(errors.CodeValidation, "bad"), http.StatusBadRequest},
		{errors.NewScanError(errors.CodeManagerShutdown, "closing"), http.StatusServiceUnavailable},
		{errors.NewScanError(errors.CodeTimeout, "slow"), http.StatusGatewayTimeout},
		{errors.WrapDiscoveryError(errors.CodeDiscoveryAuth, "login", "zabbix", nil), http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusForError(tt.err))
		})
	}
}

func TestHandleServiceErrorHidesInternalErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	rr := httptest.NewRecorder()
	handleServiceError(rr, req, fmt.Errorf("pq: password authentication failed"), "list hosts", createTestLogger())
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	resp := decodeError(t, rr)
	assert.Equal(t, "failed to list hosts", resp.Message)
	assert.NotContains(t, rr.Body.String(), "password")

	rr = httptest.NewRecorder()
	handleServiceError(rr, req, errors.ErrJobNotFound("j1"), "get job", createTestLogger())
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, decodeError(t, rr).Message, "not found")
}

func TestParseJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"name":"x"}`},
		{name: "empty", body: "", wantErr: "request body is empty"},
		{name: "malformed", body: `{"name":`, wantErr: "invalid JSON"},
		{name: "unknown field", body: `{"nam":"x"}`, wantErr: "unknown field"},
		{name: "trailing object", body: `{"name":"x"}{"name":"y"}`, wantErr: "single JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.body == "" {
				req = httptest.NewRequest(http.MethodPost, "/", http.NoBody)
			} else {
				req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			}
			var p payload
			err := parseJSON(req, &p)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "x", p.Name)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.IsCode(err, errors.CodeValidation))
		})
	}
}

func TestParseJSONBodyTooLarge(t *testing.T) {
	body := bytes.Repeat([]byte("a"), 64)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(append(append([]byte(`{"name":"`), body...), []byte(`"}`)...)))
	req.Body = http.MaxBytesReader(httptest.NewRecorder(), req.Body, 16)

	var p struct {
		Name string `json:"name"`
	}
	err := parseJSON(req, &p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}
