package sweep

import (
	"MPTestbed/api"
	"MPTestbed/pkg"
	"MPTestbed/pkg/experiment"
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
)

func baseTopology(t *testing.T) *api.TopoConfig {
	t.Helper()
	cfg, err := pkg.ReadTopoConfig("../testdata/two_paths.json")
	assert.NilError(t, err)
	return cfg
}

func TestExpand(t *testing.T) {
	base := baseTopology(t)
	points, err := Expand(base, []string{"lia", "olia"},
		map[string][]float64{"a": {5, 10}, "b": {20}},
		map[string][]float64{"a": {10}})
	assert.NilError(t, err)
	assert.Equal(t, len(points), 4)

	assert.Equal(t, points[0].String(), "cc=lia bandwidth.a=10 latency.a=5 latency.b=20")
	assert.Equal(t, points[1].String(), "cc=lia bandwidth.a=10 latency.a=10 latency.b=20")
	assert.Equal(t, points[3].CC, "olia")

	second := points[1].Config
	assert.Equal(t, second.Links[0].Properties.Latency, 10.0)
	// 1.5 * 0.02s * 10Mbps / 12000 bits = 25 packets, plus 20
	assert.Equal(t, second.Links[0].Properties.QueueSize, 45)
	n, _ := points[3].Config.Node("h1")
	assert.Equal(t, n.Properties.CC, "olia")

	// the base topology is never touched
	assert.Equal(t, base.Links[0].Properties.Latency, 5.0)
	n, _ = base.Node("h1")
	assert.Equal(t, n.Properties.CC, "lia")
}

func TestExpandWithoutAxes(t *testing.T) {
	base := baseTopology(t)
	points, err := Expand(base, nil, nil, nil)
	assert.NilError(t, err)
	assert.Equal(t, len(points), 1)
	assert.DeepEqual(t, points[0].Config, base)
	assert.Equal(t, points[0].String(), "")
}

func TestExpandErrors(t *testing.T) {
	base := baseTopology(t)
	_, err := Expand(base, nil, map[string][]float64{"zz": {1}}, nil)
	var cve *api.ConfigValidationError
	assert.Assert(t, errors.As(err, &cve))

	_, err = Expand(base, nil, nil, map[string][]float64{"a": {}})
	assert.ErrorContains(t, err, `no values for bandwidth group "a"`)

	_, err = Expand(base, nil, nil, map[string][]float64{"a": {0}})
	assert.ErrorContains(t, err, "non-positive bandwidth")
}

func TestEstimate(t *testing.T) {
	assert.Equal(t, Estimate(4, 3, 30*time.Second), 12*31*time.Second)
	assert.Equal(t, Estimate(0, 3, 30*time.Second), time.Duration(0))
}

type scriptedRunner struct {
	fail map[int]bool // repetitions that fail
	runs []int
}

func (r *scriptedRunner) Run(_ context.Context, _ *api.TopoConfig, rep int, _ experiment.Options) (api.Outcome, error) {
	r.runs = append(r.runs, rep)
	if r.fail[rep] {
		err := &api.RuntimeExecutionError{Repetition: rep, Reason: "client did not exit correctly"}
		return api.Outcome{Repetition: rep, Status: api.Failure, Err: err}, err
	}
	if rep == 2 {
		return api.Outcome{Repetition: rep, Status: api.Skipped}, nil
	}
	return api.Outcome{Repetition: rep, Status: api.Success}, nil
}

func twoPoints(t *testing.T) []Point {
	t.Helper()
	points, err := Expand(baseTopology(t), []string{"lia", "olia"}, nil, nil)
	assert.NilError(t, err)
	return points
}

func TestDriverContinuesOnError(t *testing.T) {
	r := &scriptedRunner{fail: map[int]bool{1: true}}
	d := &Driver{Runner: r, Options: experiment.DefaultOptions(), Repetitions: 3}

	summary, err := d.Run(context.Background(), twoPoints(t))
	assert.NilError(t, err)
	assert.DeepEqual(t, r.runs, []int{0, 1, 2, 0, 1, 2})
	assert.Equal(t, summary.Success, 2)
	assert.Equal(t, summary.Failed, 2)
	assert.Equal(t, summary.Skipped, 2)
	assert.Equal(t, len(summary.Outcomes), 6)
}

func TestDriverStopOnError(t *testing.T) {
	r := &scriptedRunner{fail: map[int]bool{1: true}}
	d := &Driver{Runner: r, Options: experiment.DefaultOptions(), Repetitions: 3, StopOnError: true}

	summary, err := d.Run(context.Background(), twoPoints(t))
	var rte *api.RuntimeExecutionError
	assert.Assert(t, errors.As(err, &rte))
	assert.DeepEqual(t, r.runs, []int{0, 1})
	assert.Equal(t, summary.Failed, 1)
}

func TestDriverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &scriptedRunner{}
	d := &Driver{Runner: r, Options: experiment.DefaultOptions()}

	_, err := d.Run(ctx, twoPoints(t))
	assert.Equal(t, err, context.Canceled)
	assert.Equal(t, len(r.runs), 0)
}
