package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/ports"
	"github.com/anstrom/ipsweep/internal/scanning"
)

// Duration is a time.Duration that reads and writes JSON as "3s". Bare
// numbers are accepted as seconds.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Params is the immutable configuration of one job, captured at submission.
type Params struct {
	// JobID is optional; a UUID is generated when empty.
	JobID        string   `json:"job_id,omitempty" yaml:"job_id,omitempty" validate:"omitempty,max=64,printascii"`
	Ranges       []string `json:"ranges" yaml:"ranges" validate:"required,min=1,max=256,dive,required,max=64"`
	LivenessOnly bool     `json:"liveness_only,omitempty" yaml:"liveness_only,omitempty"`
	// Ports and CheckType are mutually exclusive. With neither, the
	// comprehensive default list is used.
	Ports           []int            `json:"ports,omitempty" yaml:"ports,omitempty" validate:"omitempty,max=65535,dive,min=1,max=65535"`
	CheckType       *ports.CheckType `json:"check_type,omitempty" yaml:"check_type,omitempty" validate:"omitempty,min=0,max=15"`
	MaxConcurrent   int              `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty" validate:"omitempty,min=1,max=4096"`
	ProbeTimeout    Duration         `json:"probe_timeout,omitempty" yaml:"probe_timeout,omitempty"`
	LivenessTimeout Duration         `json:"liveness_timeout,omitempty" yaml:"liveness_timeout,omitempty"`
}

const maxTimeout = Duration(time.Minute)

var validate = validator.New()

// Validate checks p and returns a CodeValidation error describing the first
// problem found.
func (p *Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			fe := verrs[0]
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("invalid %s: failed %q", strings.ToLower(fe.Field()), fe.Tag()),
				fe.Namespace(), fe.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "invalid job parameters", err)
	}
	if len(p.Ports) > 0 && p.CheckType != nil {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"ports and check_type are mutually exclusive", "Params.Ports", p.Ports)
	}
	for name, d := range map[string]Duration{"probe_timeout": p.ProbeTimeout, "liveness_timeout": p.LivenessTimeout} {
		if d < 0 || d > maxTimeout {
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("%s must be between 0 and %s", name, time.Duration(maxTimeout)), name, d)
		}
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors) //nolint:errorlint // validator returns the concrete type
	if ok {
		*target = verrs
	}
	return ok
}

// RunConfig turns validated params into an engine configuration, applying
// check-type port sets and defaults.
func (p *Params) RunConfig() scanning.RunConfig {
	host := scanning.HostOptions{
		LivenessOnly:    p.LivenessOnly,
		ProbeTimeout:    time.Duration(p.ProbeTimeout),
		LivenessTimeout: time.Duration(p.LivenessTimeout),
	}

	switch {
	case p.CheckType != nil:
		ct := *p.CheckType
		host.Ports = ct.DefaultPorts()
		host.LivenessOnly = host.LivenessOnly || ct.LivenessOnly()
		host.SNMP = ct.IsSNMP()
	case len(p.Ports) > 0:
		normalized, err := ports.Normalize(p.Ports)
		if err == nil {
			host.Ports = normalized
		}
	default:
		host.Ports = append([]int(nil), ports.ComprehensivePorts...)
	}

	if host.ProbeTimeout <= 0 {
		host.ProbeTimeout = scanning.DefaultProbeTimeout
	}
	if host.LivenessTimeout <= 0 {
		host.LivenessTimeout = scanning.DefaultLivenessTimeout
	}
	maxConcurrent := p.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = scanning.DefaultMaxConcurrent
	}

	return scanning.RunConfig{
		Ranges:        append([]string(nil), p.Ranges...),
		Host:          host,
		MaxConcurrent: maxConcurrent,
	}
}

// clone deep-copies p so the caller cannot mutate a submitted job.
func (p Params) clone() Params {
	c := p
	c.Ranges = append([]string(nil), p.Ranges...)
	if p.Ports != nil {
		c.Ports = append([]int(nil), p.Ports...)
	}
	if p.CheckType != nil {
		ct := *p.CheckType
		c.CheckType = &ct
	}
	return c
}
