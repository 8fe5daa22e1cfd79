package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/ipsweep/internal/config"
	"github.com/anstrom/ipsweep/internal/jobs"
	"github.com/anstrom/ipsweep/internal/liveness"
	"github.com/anstrom/ipsweep/internal/logging"
	"github.com/anstrom/ipsweep/internal/scanning"
)

// loopbackListener accepts and immediately closes connections.
func loopbackListener(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func scanTestConfig(port int) *config.Config {
	cfg := config.Default()
	cfg.Daemon.ShutdownTimeout = 5 * time.Second
	cfg.Engine.LivenessMethod = liveness.MethodTCP
	cfg.Engine.LivenessPorts = []int{port}
	cfg.Engine.DNSServer = "127.0.0.1:1"
	cfg.Engine.DNSTimeout = 100 * time.Millisecond
	cfg.Engine.ClassifyTimeout = 200 * time.Millisecond
	return cfg
}

func TestRunForegroundScan(t *testing.T) {
	port := loopbackListener(t)
	cfg := scanTestConfig(port)

	var (
		mu     sync.Mutex
		events int
	)
	progress := jobs.ListenerFunc(func(jobs.Event) {
		mu.Lock()
		events++
		mu.Unlock()
	})

	params := jobs.Params{Ranges: []string{"127.0.0.1"}, Ports: []int{port}}
	st, err := runForegroundScan(context.Background(), cfg, params, logging.NewDiscard(), progress)
	require.NoError(t, err)

	require.Equal(t, jobs.StateCompleted, st.State)
	require.Len(t, st.Results, 1)
	res := st.Results[0]
	assert.Equal(t, scanning.StatusOnline, res.Status)
	assert.Equal(t, []int{port}, res.OpenPorts)
	require.NotNil(t, st.Summary)
	assert.Equal(t, 1, st.Summary.Online)
	mu.Lock()
	assert.Positive(t, events)
	mu.Unlock()
}

func TestRunForegroundScanCancelled(t *testing.T) {
	cfg := scanTestConfig(loopbackListener(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	params := jobs.Params{Ranges: []string{"127.0.0.0/28"}, LivenessOnly: true}
	st, err := runForegroundScan(ctx, cfg, params, logging.NewDiscard(), nil)
	require.NoError(t, err)
	assert.True(t, st.State.Terminal())
}

func TestRunForegroundScanRejectsBadLiveness(t *testing.T) {
	cfg := scanTestConfig(80)
	cfg.Engine.LivenessMethod = "carrier-pigeon"

	_, err := runForegroundScan(context.Background(), cfg, jobs.Params{Ranges: []string{"127.0.0.1"}},
		logging.NewDiscard(), nil)
	assert.Error(t, err)
}

func TestProgressWriter(t *testing.T) {
	var buf bytes.Buffer
	l := progressWriter(&buf)
	require.NotNil(t, l)

	l.OnJobEvent(jobs.Event{Kind: jobs.EventProgress, Status: jobs.Status{
		Progress: 50,
		Stats:    scanning.ScanStatistics{Total: 4, Scanned: 2, Online: 1},
	}})
	l.OnJobEvent(jobs.Event{Kind: jobs.EventState, Status: jobs.Status{State: jobs.StateCompleted}})

	assert.Equal(t, "\rScanning: 2/4 hosts, 1 online (50.0%)\n", buf.String())
}

func TestScanCommandWritesFile(t *testing.T) {
	port := loopbackListener(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
engine:
  liveness_method: tcp
  liveness_ports: [`+strconv.Itoa(port)+`]
  dns_server: 127.0.0.1:1
  dns_timeout: 100ms
logging:
  level: error
`), 0o600))
	outPath := filepath.Join(dir, "hosts.json")

	resetViper(t)
	var stderr bytes.Buffer
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"scan", "127.0.0.1", "--liveness-only", "--quiet",
		"--format", "json", "--output", outPath, "--config", cfgPath})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
	})
	require.NoError(t, rootCmd.Execute())

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var results []scanning.HostResult
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results, 1)
	assert.Equal(t, scanning.StatusOnline, results[0].Status)
	assert.Contains(t, stderr.String(), "Scanned 1 hosts")
}

func TestScanCommandRejectsUnknownFormat(t *testing.T) {
	_, err := executeCommand(t, "", "scan", "127.0.0.1", "--format", "xml")
	assert.ErrorContains(t, err, "unsupported format")
}
