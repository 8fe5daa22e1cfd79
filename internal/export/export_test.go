package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/scanning"
)

func sample() []scanning.HostResult {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	ms := 1.234
	return []scanning.HostResult{
		{
			Address:      netip.MustParseAddr("10.0.0.1"),
			Hostname:     "gw.lan",
			MAC:          "AA:BB:CC:00:11:22",
			Status:       scanning.StatusOnline,
			LatencyMS:    &ms,
			OpenPorts:    []int{22, 443},
			Services:     map[int]string{443: "https", 22: "ssh"},
			DiscoveredAt: at,
		},
		{
			Address:      netip.MustParseAddr("10.0.0.2"),
			Status:       scanning.StatusOffline,
			OpenPorts:    []int{},
			Services:     map[int]string{},
			DiscoveredAt: at,
		},
	}
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSV(&buf, sample()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, Columns, records[0])
	assert.Equal(t, []string{
		"10.0.0.1", "gw.lan", "AA:BB:CC:00:11:22", "online", "1.23",
		"22,443", "22:ssh,443:https", "2026-03-14T09:26:53Z",
	}, records[1])
	assert.Equal(t, []string{
		"10.0.0.2", "", "", "offline", "", "", "", "2026-03-14T09:26:53Z",
	}, records[2])
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, sample()))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)

	assert.Equal(t, "10.0.0.1", decoded[0]["address"])
	assert.Equal(t, "online", decoded[0]["status"])
	assert.Equal(t, 1.234, decoded[0]["latency_ms"])
	assert.Equal(t, map[string]any{"22": "ssh", "443": "https"}, decoded[0]["services"])
	assert.NotContains(t, decoded[1], "latency_ms")
	assert.NotContains(t, decoded[1], "hostname")
}

func TestJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Table(&buf, sample()))

	out := buf.String()
	assert.Contains(t, out, "10.0.0.1")
	assert.Contains(t, out, "22:ssh,443:https")
	assert.Contains(t, out, "offline")
}

func TestWrite(t *testing.T) {
	for _, format := range Formats {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, strings.ToUpper(format), sample()))
			assert.NotEmpty(t, buf.String())
		})
	}

	err := Write(&bytes.Buffer{}, "xml", sample())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv", ContentType("csv"))
	assert.Equal(t, "application/json", ContentType("JSON"))
	assert.Equal(t, "text/plain; charset=utf-8", ContentType("table"))
}

func TestJoinHelpers(t *testing.T) {
	assert.Equal(t, "", JoinPorts(nil))
	assert.Equal(t, "1,2", JoinPorts([]int{1, 2}))
	assert.Equal(t, "21:ftp,8080:unknown/8080", JoinServices(map[int]string{8080: "unknown/8080", 21: "ftp"}))
}
