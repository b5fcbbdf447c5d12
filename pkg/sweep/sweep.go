package sweep

import (
	"MPTestbed/api"
	"MPTestbed/pkg"
	"MPTestbed/pkg/experiment"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// Point is one configuration of a sweep.
type Point struct {
	CC     string // empty keeps the algorithms of the topology
	Values map[string]float64
	Config *api.TopoConfig
}

func (p Point) String() string {
	keys := sortedKeys(p.Values)
	parts := make([]string, 0, len(keys)+1)
	if p.CC != "" {
		parts = append(parts, "cc="+p.CC)
	}
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", k, p.Values[k]))
	}
	return strings.Join(parts, " ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

type axis struct {
	field  string
	group  string
	values []float64
}

func axes(field string, values map[string][]float64) []axis {
	groups := sortedKeys(values)
	out := make([]axis, 0, len(groups))
	for _, g := range groups {
		out = append(out, axis{field: field, group: g, values: values[g]})
	}
	return out
}

// Expand returns the cartesian product of ccs and the per-group latency and
// bandwidth values, each point carrying its own copy of base with queue
// sizes derived anew.
func Expand(base *api.TopoConfig, ccs []string, latency, bandwidth map[string][]float64) ([]Point, error) {
	all := append(axes(pkg.FieldLatency, latency), axes(pkg.FieldBandwidth, bandwidth)...)
	for _, a := range all {
		if len(a.values) == 0 {
			return nil, errors.Errorf("no values for %s group %q", a.field, a.group)
		}
	}
	if len(ccs) == 0 {
		ccs = []string{""}
	}

	points := make([]Point, 0)
	for _, cc := range ccs {
		idx := make([]int, len(all))
		for {
			p, err := point(base, cc, all, idx)
			if err != nil {
				return nil, err
			}
			points = append(points, p)
			if !advance(idx, all) {
				break
			}
		}
	}
	return points, nil
}

// advance steps the odometer idx, returning false once it wrapped.
func advance(idx []int, all []axis) bool {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < len(all[i].values) {
			return true
		}
		idx[i] = 0
	}
	return false
}

func point(base *api.TopoConfig, cc string, all []axis, idx []int) (Point, error) {
	cfg := base.Clone()
	values := make(map[string]float64, len(all))
	for i, a := range all {
		v := a.values[idx[i]]
		if err := pkg.SetGroupValue(cfg, a.field, a.group, v); err != nil {
			return Point{}, err
		}
		values[a.field+"."+a.group] = v
	}
	if cc != "" {
		for i := range cfg.Nodes {
			if cfg.Nodes[i].Properties.Server != "" {
				cfg.Nodes[i].Properties.CC = cc
			}
		}
	}
	pkg.NewCalculator().ApplyQueueSizes(cfg)
	return Point{CC: cc, Values: values, Config: cfg}, nil
}

// Estimate is the expected wall time of a sweep, one second of overhead
// per run.
func Estimate(points, repetitions int, runtime time.Duration) time.Duration {
	return time.Duration(points*repetitions) * (runtime + time.Second)
}

// Runner runs a single repetition.
type Runner interface {
	Run(ctx context.Context, cfg *api.TopoConfig, repetition int, opts experiment.Options) (api.Outcome, error)
}

// Summary counts the outcomes of a sweep.
type Summary struct {
	Outcomes []api.Outcome
	Success  int
	Skipped  int
	Failed   int
}

func (s *Summary) add(o api.Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case api.Success:
		s.Success++
	case api.Skipped:
		s.Skipped++
	default:
		s.Failed++
	}
}

// Driver runs every repetition of every point, one at a time.
type Driver struct {
	Runner      Runner
	Options     experiment.Options
	Repetitions int
	StopOnError bool
}

// Run returns the first error only when StopOnError is set or ctx is done;
// otherwise failures are logged and counted.
func (d *Driver) Run(ctx context.Context, points []Point) (Summary, error) {
	var s Summary
	reps := d.Repetitions
	if reps <= 0 {
		reps = 1
	}
	log.WithFields(log.Fields{
		"points":      len(points),
		"repetitions": reps,
		"expected":    Estimate(len(points), reps, d.Options.Runtime).String(),
	}).Info("starting sweep")

	for _, p := range points {
		for rep := 0; rep < reps; rep++ {
			if err := ctx.Err(); err != nil {
				return s, err
			}
			outcome, err := d.Runner.Run(ctx, p.Config, rep, d.Options)
			s.add(outcome)
			if err == nil {
				continue
			}
			log.WithError(err).WithFields(log.Fields{
				"point":      p.String(),
				"repetition": rep,
			}).Error("repetition failed")
			if d.StopOnError {
				return s, err
			}
		}
	}
	log.WithFields(log.Fields{
		"success": s.Success,
		"skipped": s.Skipped,
		"failed":  s.Failed,
	}).Info("sweep done")
	return s, nil
}
