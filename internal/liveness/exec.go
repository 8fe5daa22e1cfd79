package liveness

import (
	"context"
	"math"
	"net/netip"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"
)

// processSlack is added to the probe timeout to bound the child process.
const processSlack = time.Second

var rttPattern = regexp.MustCompile(`(?i)time[=<]\s*([0-9.]+)\s*ms`)

// CommandRunner executes an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ExecProber shells out to the operating system ping utility.
type ExecProber struct {
	goos string
	run  CommandRunner
}

// NewExecProber creates a prober for the current platform.
func NewExecProber() *ExecProber {
	return &ExecProber{goos: runtime.GOOS, run: runCommand}
}

// Probe sends a single echo request via the ping binary.
func (p *ExecProber) Probe(ctx context.Context, addr netip.Addr, timeout time.Duration) Result {
	ctx, cancel := withDeadline(ctx, timeout, processSlack)
	defer cancel()

	start := time.Now()
	out, err := p.run(ctx, "ping", p.args(addr, timeout)...)
	elapsed := time.Since(start)
	if err != nil {
		return Result{}
	}

	latency := elapsed
	if m := rttPattern.FindSubmatch(out); m != nil {
		if ms, convErr := strconv.ParseFloat(string(m[1]), 64); convErr == nil {
			latency = time.Duration(ms * float64(time.Millisecond))
		}
	}
	return Result{Alive: true, Latency: latency}
}

func (p *ExecProber) args(addr netip.Addr, timeout time.Duration) []string {
	if timeout <= 0 {
		timeout = time.Second
	}
	if p.goos == "windows" {
		return []string{"-n", "1", "-w", strconv.FormatInt(timeout.Milliseconds(), 10), addr.String()}
	}
	// -W takes whole seconds on Linux; never round down to zero.
	secs := int(math.Ceil(timeout.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return []string{"-c", "1", "-W", strconv.Itoa(secs), addr.String()}
}
