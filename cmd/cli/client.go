package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/ipsweep/internal/api/handlers"
	"github.com/anstrom/ipsweep/internal/api/middleware"
	"github.com/anstrom/ipsweep/internal/discovery"
	"github.com/anstrom/ipsweep/internal/jobs"
)

const (
	apiPrefix     = "/api/v1"
	cliUserAgent  = "ipsweep-cli/1.0"
	maxErrorBytes = 64 << 10
)

// APIClient talks to the ipsweep daemon's REST API.
type APIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	userAgent  string
}

// APIError represents an API error response
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	RequestID  string
}

// Error implements the error interface
func (e *APIError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	if e.RequestID != "" {
		return fmt.Sprintf("API error (status %d, request %s): %s", e.StatusCode, e.RequestID, msg)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, msg)
}

// NewAPIClient creates a client for the daemon at server, e.g.
// "http://127.0.0.1:8080". apiKey may be empty when authentication is off.
func NewAPIClient(server, apiKey string, timeout time.Duration) (*APIClient, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", server)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server URL must use http or https, got %q", u.Scheme)
	}
	return &APIClient{
		baseURL: u.String() + apiPrefix,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		userAgent: cliUserAgent,
	}, nil
}

// SubmitJob submits a scan job.
func (c *APIClient) SubmitJob(ctx context.Context, params jobs.Params) (handlers.SubmitResponse, error) {
	var resp handlers.SubmitResponse
	err := c.do(ctx, http.MethodPost, "/jobs", params, &resp)
	return resp, err
}

// JobStatus fetches the status of a job.
func (c *APIClient) JobStatus(ctx context.Context, id string) (jobs.Status, error) {
	var st jobs.Status
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &st)
	return st, err
}

// CancelJob cancels an active job and returns its status.
func (c *APIClient) CancelJob(ctx context.Context, id string) (jobs.Status, error) {
	var st jobs.Status
	err := c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(id), nil, &st)
	return st, err
}

// ListJobs returns the ids of active jobs.
func (c *APIClient) ListJobs(ctx context.Context) ([]string, error) {
	var resp handlers.ActiveJobsResponse
	if err := c.do(ctx, http.MethodGet, "/jobs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// ListHosts returns up to limit inventory records, optionally filtered by
// source ("scan" or "external").
func (c *APIClient) ListHosts(ctx context.Context, limit int, source string) (handlers.HostListResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if source != "" {
		q.Set("source", source)
	}
	endpoint := "/hosts"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp handlers.HostListResponse
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Import asks the daemon to run an external discovery import.
func (c *APIClient) Import(ctx context.Context, ruleID string) (discovery.ImportSummary, error) {
	var summary discovery.ImportSummary
	err := c.do(ctx, http.MethodPost, "/discovery/import", handlers.ImportRequest{RuleID: ruleID}, &summary)
	return summary, err
}

// Health returns the daemon's health report.
func (c *APIClient) Health(ctx context.Context) (handlers.HealthResponse, error) {
	var h handlers.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &h)
	return h, err
}

// do performs one request and decodes a successful JSON body into out.
func (c *APIClient) do(ctx context.Context, method, endpoint string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set(middleware.APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get(middleware.RequestIDHeader),
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))

	var er handlers.ErrorResponse
	if err := json.Unmarshal(data, &er); err == nil && (er.Message != "" || er.Error != "") {
		apiErr.Message = er.Message
		if apiErr.Message == "" {
			apiErr.Message = er.Error
		}
		apiErr.Code = er.Code
		if er.RequestID != "" {
			apiErr.RequestID = er.RequestID
		}
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(data))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
