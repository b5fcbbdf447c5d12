package sweep

import (
	"MPTestbed/pkg/experiment"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Plan describes a sweep over one topology. Times are in seconds.
type Plan struct {
	Topology     string               `yaml:"topology"`
	Logs         string               `yaml:"logs"`
	Repetitions  int                  `yaml:"repetitions"`
	Runtime      float64              `yaml:"runtime"`
	Interval     float64              `yaml:"interval"`
	Capture      *bool                `yaml:"capture"`
	KeepPcap     *bool                `yaml:"keep_pcap"`
	SkipExisting bool                 `yaml:"skip_existing"`
	StopOnError  bool                 `yaml:"stop_on_error"`
	CCs          []string             `yaml:"ccs"`
	Latency      map[string][]float64 `yaml:"latency"`
	Bandwidth    map[string][]float64 `yaml:"bandwidth"`
	Image        string               `yaml:"image"`
}

// ReadPlan decodes a plan file. A relative topology path is taken relative
// to the plan file.
func ReadPlan(filename string) (*Plan, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading sweep plan %s", filename)
	}
	var p Plan
	if err = yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrapf(err, "error unmarshaling sweep plan %s", filename)
	}
	if p.Topology == "" {
		return nil, errors.Errorf("sweep plan %s names no topology", filename)
	}
	if !filepath.IsAbs(p.Topology) {
		p.Topology = filepath.Join(filepath.Dir(filename), p.Topology)
	}
	if p.Repetitions <= 0 {
		p.Repetitions = 1
	}
	return &p, nil
}

// Options overlays the plan on top of defaults.
func (p *Plan) Options(defaults experiment.Options) experiment.Options {
	opts := defaults
	if p.Logs != "" {
		opts.BaseFolder = p.Logs
	}
	if p.Runtime > 0 {
		opts.Runtime = seconds(p.Runtime)
	}
	if p.Interval > 0 {
		opts.Interval = seconds(p.Interval)
	}
	if p.Capture != nil {
		opts.Capture = *p.Capture
	}
	if p.KeepPcap != nil {
		opts.KeepPcap = *p.KeepPcap
	}
	opts.SkipIfExists = opts.SkipIfExists || p.SkipExisting
	return opts
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
