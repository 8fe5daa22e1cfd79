package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDB is a mock implementation of the database interface.
type MockDB struct {
	mock.Mock
}

func (m *MockDB) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestHealthHandler_Health(t *testing.T) {
	tests := []struct {
		name           string
		setupDB        func() DatabasePinger
		expectedStatus int
		expectedHealth string
		dbCheck        string
	}{
		{
			name: "healthy database",
			setupDB: func() DatabasePinger {
				db := &MockDB{}
				db.On("Ping", mock.Anything).Return(nil)
				return db
			},
			expectedStatus: http.StatusOK,
			expectedHealth: StatusHealthy,
			dbCheck:        "ok",
		},
		{
			name: "database down",
			setupDB: func() DatabasePinger {
				db := &MockDB{}
				db.On("Ping", mock.Anything).Return(errors.New("connection refused"))
				return db
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedHealth: StatusUnhealthy,
			dbCheck:        "failed: connection refused",
		},
		{
			name:           "in-memory store",
			setupDB:        func() DatabasePinger { return nil },
			expectedStatus: http.StatusOK,
			expectedHealth: StatusHealthy,
			dbCheck:        StatusNotConfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			active := &MockJobService{}
			active.On("ListActive").Return([]string{"a", "b"})
			h := NewHealthHandler(tt.setupDB(), active, createTestLogger())

			rr := httptest.NewRecorder()
			h.Health(rr, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedHealth, resp.Status)
			assert.Equal(t, tt.dbCheck, resp.Checks["database"])
			assert.Equal(t, 2, resp.ActiveJobs)
			assert.NotEmpty(t, resp.Uptime)
		})
	}
}

func TestHealthHandler_Version(t *testing.T) {
	SetBuildInfo("1.2.3", "abc123", "2024-03-01")
	t.Cleanup(func() { SetBuildInfo("dev", "none", "unknown") })

	rr := httptest.NewRecorder()
	NewHealthHandler(nil, nil, createTestLogger()).Version(rr, httptest.NewRequest(http.MethodGet, "/api/v1/version", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp VersionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "abc123", resp.Commit)
	assert.Equal(t, runtime.Version(), resp.GoVersion)
}
