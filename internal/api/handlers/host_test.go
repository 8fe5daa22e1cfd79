package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/ipsweep/internal/jobs"
)

// MockHostLister is a mock implementation of jobs.HostLister.
type MockHostLister struct {
	mock.Mock
}

func (m *MockHostLister) ListHostRecords(ctx context.Context, limit int) ([]jobs.HostRecord, error) {
	args := m.Called(ctx, limit)
	if v := args.Get(0); v != nil {
		return v.([]jobs.HostRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func sampleHosts() []jobs.HostRecord {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []jobs.HostRecord{
		{Address: netip.MustParseAddr("192.0.2.1"), Hostname: "a", Source: jobs.SourceScan, LastSeen: now},
		{Address: netip.MustParseAddr("192.0.2.2"), Hostname: "b", Source: jobs.SourceExternal, RuleID: "7", LastSeen: now},
	}
}

func TestHostHandler_ListHosts(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		setup      func(m *MockHostLister)
		wantStatus int
		wantCount  int
	}{
		{
			name:       "default limit",
			setup:      func(m *MockHostLister) { m.On("ListHostRecords", mock.Anything, defaultHostLimit).Return(sampleHosts(), nil) },
			wantStatus: http.StatusOK,
			wantCount:  2,
		},
		{
			name:       "explicit limit",
			query:      "?limit=5",
			setup:      func(m *MockHostLister) { m.On("ListHostRecords", mock.Anything, 5).Return(sampleHosts()[:1], nil) },
			wantStatus: http.StatusOK,
			wantCount:  1,
		},
		{
			name:       "source filter",
			query:      "?source=external",
			setup:      func(m *MockHostLister) { m.On("ListHostRecords", mock.Anything, defaultHostLimit).Return(sampleHosts(), nil) },
			wantStatus: http.StatusOK,
			wantCount:  1,
		},
		{
			name:       "empty store",
			setup:      func(m *MockHostLister) { m.On("ListHostRecords", mock.Anything, defaultHostLimit).Return(nil, nil) },
			wantStatus: http.StatusOK,
			wantCount:  0,
		},
		{name: "limit zero", query: "?limit=0", setup: func(*MockHostLister) {}, wantStatus: http.StatusBadRequest},
		{name: "limit too large", query: "?limit=100000", setup: func(*MockHostLister) {}, wantStatus: http.StatusBadRequest},
		{name: "limit not a number", query: "?limit=x", setup: func(*MockHostLister) {}, wantStatus: http.StatusBadRequest},
		{name: "bad source", query: "?source=dhcp", setup: func(*MockHostLister) {}, wantStatus: http.StatusBadRequest},
		{
			name: "store failure",
			setup: func(m *MockHostLister) {
				m.On("ListHostRecords", mock.Anything, defaultHostLimit).Return(nil, fmt.Errorf("connection reset"))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &MockHostLister{}
			tt.setup(lister)
			h := NewHostHandler(lister, createTestLogger())

			rr := httptest.NewRecorder()
			h.ListHosts(rr, httptest.NewRequest(http.MethodGet, "/api/v1/hosts"+tt.query, nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus != http.StatusOK {
				lister.AssertNotCalled(t, "ListHostRecords", mock.Anything, 0)
				return
			}
			var resp HostListResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCount, resp.Count)
			assert.Len(t, resp.Hosts, tt.wantCount)
			assert.NotNil(t, resp.Hosts)
			lister.AssertExpectations(t)
		})
	}
}
