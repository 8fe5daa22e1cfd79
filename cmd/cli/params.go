package cli

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/anstrom/ipsweep/internal/jobs"
	"github.com/anstrom/ipsweep/internal/ports"
)

// paramFlags holds the job parameter flags shared by scan and jobs submit.
type paramFlags struct {
	ports           []int
	checkType       string
	livenessOnly    bool
	concurrency     int
	probeTimeout    time.Duration
	livenessTimeout time.Duration
	jobID           string
}

func (p *paramFlags) register(fs *pflag.FlagSet) {
	fs.IntSliceVar(&p.ports, "ports", nil, "TCP ports to probe (comma-separated)")
	fs.StringVar(&p.checkType, "check-type", "", "check type selecting the port set (e.g. SSH, HTTP, 'ICMP ping')")
	fs.BoolVar(&p.livenessOnly, "liveness-only", false, "only check whether hosts are up")
	fs.IntVar(&p.concurrency, "concurrency", 0, "maximum hosts scanned at once (0 = default)")
	fs.DurationVar(&p.probeTimeout, "probe-timeout", 0, "per-port connect timeout (0 = default)")
	fs.DurationVar(&p.livenessTimeout, "liveness-timeout", 0, "per-host liveness timeout (0 = default)")
	fs.StringVar(&p.jobID, "job-id", "", "job id to use instead of a generated one")
}

// params builds validated job parameters for ranges.
func (p *paramFlags) params(ranges []string) (jobs.Params, error) {
	params := jobs.Params{
		JobID:           p.jobID,
		Ranges:          ranges,
		LivenessOnly:    p.livenessOnly,
		Ports:           p.ports,
		MaxConcurrent:   p.concurrency,
		ProbeTimeout:    jobs.Duration(p.probeTimeout),
		LivenessTimeout: jobs.Duration(p.livenessTimeout),
	}
	if p.checkType != "" {
		ct, err := ports.ParseCheckType(p.checkType)
		if err != nil {
			return jobs.Params{}, err
		}
		params.CheckType = &ct
	}
	if err := params.Validate(); err != nil {
		return jobs.Params{}, err
	}
	return params, nil
}
