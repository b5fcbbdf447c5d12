package experiment

import (
	"MPTestbed/api"
	"MPTestbed/pkg"
	"MPTestbed/pkg/rtt"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/fs"
)

type fakeProcess struct {
	result api.ExecResult
	block  bool // Wait never returns on its own
	stuck  bool // ignores interrupts

	interrupted bool
	killed      bool
}

func (p *fakeProcess) Wait(ctx context.Context) (api.ExecResult, error) {
	if p.block {
		<-ctx.Done()
		return api.ExecResult{}, ctx.Err()
	}
	return p.result, nil
}

func (p *fakeProcess) Interrupt() error {
	p.interrupted = true
	return nil
}

func (p *fakeProcess) WaitBriefly(time.Duration) bool {
	return p.interrupted && !p.stuck
}

func (p *fakeProcess) Kill() error {
	p.killed = true
	return nil
}

type fakeNode struct {
	id     string
	ips    []string
	fabric *fakeFabric
}

func (n *fakeNode) Name() string  { return n.id }
func (n *fakeNode) IP() string    { return n.ips[0] }
func (n *fakeNode) IPs() []string { return n.ips }

func (n *fakeNode) RunAsync(ctx context.Context, cmd api.CommandLine) (api.Process, error) {
	return n.fabric.run(n.id, cmd)
}

func (n *fakeNode) RunCapturing(ctx context.Context, cmd api.CommandLine) (api.Process, error) {
	return n.fabric.run(n.id, cmd)
}

type launch struct {
	node string
	cmd  api.CommandLine
	proc *fakeProcess
}

// fakeFabric creates the files a command would write and hands out
// processes shaped by its knobs.
type fakeFabric struct {
	t        *testing.T
	startErr error

	clientExit  int
	clientBlock bool
	serverStuck bool

	starts, stops int
	launches      []launch
}

func (f *fakeFabric) Start(context.Context) error {
	f.starts++
	return f.startErr
}

func (f *fakeFabric) Stop(context.Context) error {
	f.stops++
	return nil
}

func (f *fakeFabric) Node(id string) (api.NodeHandle, error) {
	if _, err := pkg.HostNumber(id); err != nil {
		return nil, err
	}
	return &fakeNode{id: id, ips: []string{"10.0.0." + id[1:], "10.0.1." + id[1:]}, fabric: f}, nil
}

func (f *fakeFabric) run(node string, cmd api.CommandLine) (api.Process, error) {
	if cmd.Output != "" && cmd.Output != os.DevNull {
		assert.NilError(f.t, os.WriteFile(cmd.Output, []byte("report\n"), 0644))
	}
	p := &fakeProcess{}
	switch {
	case cmd.Args[0] == "tcpdump":
		assert.NilError(f.t, os.WriteFile(cmd.Args[4], []byte("pcap"), 0644))
	case cmd.Args[1] == "-c":
		p.result.ExitCode = f.clientExit
		p.block = f.clientBlock
	case cmd.Args[1] == "-s":
		p.stuck = f.serverStuck
	}
	f.launches = append(f.launches, launch{node: node, cmd: cmd, proc: p})
	return p, nil
}

func (f *fakeFabric) launched(node, tool string) *launch {
	for i := range f.launches {
		l := &f.launches[i]
		if l.node == node && l.cmd.Args[0] == tool {
			return l
		}
	}
	return nil
}

type fakeEnv struct {
	available []string
	failOn    string
	values    map[string]string
}

func (e *fakeEnv) SetAndVerify(name, value string) error {
	if name == e.failOn {
		return errors.New("permission denied")
	}
	e.values[name] = value
	return nil
}

func (e *fakeEnv) AvailableCongestionControl() ([]string, error) {
	return e.available, nil
}

type fakePost struct {
	extracted, deleted []string
}

func (p *fakePost) ExtractRTT(_ context.Context, pcap string) (string, error) {
	p.extracted = append(p.extracted, pcap)
	csv := rtt.CSVPath(pcap)
	return csv, os.WriteFile(csv, []byte("rtt\n"), 0644)
}

func (p *fakePost) DeleteFile(path string) error {
	p.deleted = append(p.deleted, path)
	return os.Remove(path)
}

type countingSweeper struct {
	sweeps int
}

func (s *countingSweeper) Sweep() error {
	s.sweeps++
	return nil
}

type harness struct {
	runner    *Runner
	fabric    *fakeFabric
	env       *fakeEnv
	post      *fakePost
	sweeper   *countingSweeper
	factories int
	opts      Options
	folder    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fabric:  &fakeFabric{t: t},
		env:     &fakeEnv{available: []string{"reno", "cubic", "lia", "olia"}, values: map[string]string{}},
		post:    &fakePost{},
		sweeper: &countingSweeper{},
	}
	h.runner = &Runner{
		NewFabric: func(*api.TopoConfig) (api.Fabric, error) {
			h.factories++
			return h.fabric, nil
		},
		Env:      h.env,
		Post:     h.post,
		Sweeper:  h.sweeper,
		Resolver: pkg.NewResolver(),
		Console: func(context.Context, *api.TopoConfig, api.Fabric) error {
			return nil
		},
	}

	dir := fs.NewDir(t, "logs")
	h.opts = DefaultOptions()
	h.opts.BaseFolder = dir.Path()
	h.opts.Runtime = 50 * time.Millisecond
	h.opts.WarmUp = 0
	h.opts.Settle = 0
	h.opts.ClientGrace = 50 * time.Millisecond
	h.opts.ServerGrace = time.Millisecond
	h.folder = filepath.Join(dir.Path(), "t", "lia", "10Mbps", "5ms")
	return h
}

func topology(t *testing.T, cc string) *api.TopoConfig {
	t.Helper()
	cfg, err := pkg.ParseTopoConfig([]byte(`{
		"topology_id": "t",
		"nodes": [{"id": "h1", "properties": {"server": "h2", "cc": "`+cc+`"}}, {"id": "h2"}, {"id": "s1"}],
		"links": [
			{"source": "h1", "target": "s1", "properties": {"bandwidth": 10, "latency": 5}},
			{"source": "s1", "target": "h2", "properties": {"bandwidth": 10, "latency": 5}}
		]
	}`), false)
	assert.NilError(t, err)
	return cfg
}

func (h *harness) run(t *testing.T, cfg *api.TopoConfig) (api.Outcome, error) {
	t.Helper()
	return h.runner.Run(context.Background(), cfg, 0, h.opts)
}

func assertExists(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.NilError(t, err, path)
}

func TestRunSuccess(t *testing.T) {
	h := newHarness(t)
	outcome, err := h.run(t, topology(t, "lia"))
	assert.NilError(t, err)

	assert.Equal(t, outcome.Status, api.Success)
	assert.Equal(t, outcome.OutputFolder, h.folder)
	assert.DeepEqual(t, outcome.States, []api.State{
		api.Init, api.Validated, api.FabricUp, api.ServersStarted,
		api.ClientsCompleted, api.CapturesStopped, api.TornDown, api.Done,
	})

	for _, name := range []string{"0_h1_iperf.csv", "0_h2_iperf.csv", "0_h1_iperf_dump.pcap", "0_h1_iperf_dump.csv"} {
		assertExists(t, filepath.Join(h.folder, name))
	}

	assert.Equal(t, h.env.values["net.mptcp.mptcp_enabled"], "1")
	assert.Equal(t, h.fabric.starts, 1)
	assert.Equal(t, h.fabric.stops, 1)
	assert.Equal(t, h.sweeper.sweeps, 1)
	assert.Equal(t, len(h.post.deleted), 0)

	server := h.fabric.launched("h2", "iperf3")
	client := h.fabric.launched("h1", "iperf3")
	capture := h.fabric.launched("h1", "tcpdump")
	assert.Assert(t, server.proc.interrupted)
	assert.Assert(t, capture.proc.interrupted)
	assert.Assert(t, !client.proc.killed)
	assert.Equal(t, client.cmd.Args[2], "10.0.0.2")
	// the capture follows every address of the server
	assert.DeepEqual(t, capture.cmd.Args[5:], []string{"host", "10.0.0.2", "or", "host", "10.0.1.2"})

	// servers are launched before clients and captures before their client
	assert.Equal(t, h.fabric.launches[0].node, "h2")
	assert.Equal(t, h.fabric.launches[1].cmd.Args[0], "tcpdump")
}

func TestRunSinglePath(t *testing.T) {
	h := newHarness(t)
	h.opts.Capture = false
	outcome, err := h.run(t, topology(t, "cubic"))
	assert.NilError(t, err)
	assert.Equal(t, outcome.Status, api.Success)
	assert.Equal(t, h.env.values["net.mptcp.mptcp_enabled"], "0")
	assert.Assert(t, h.fabric.launched("h1", "tcpdump") == nil)
	assert.Equal(t, len(h.post.extracted), 0)

	folder := filepath.Join(h.opts.BaseFolder, "t", "cubic", "10Mbps", "5ms")
	assert.Equal(t, outcome.OutputFolder, folder)
	assertExists(t, filepath.Join(folder, "0_h1_iperf.csv"))
	assertExists(t, filepath.Join(folder, "0_h2_iperf.csv"))
}

func TestRunDeletesPcap(t *testing.T) {
	h := newHarness(t)
	h.opts.KeepPcap = false
	_, err := h.run(t, topology(t, "lia"))
	assert.NilError(t, err)

	pcap := filepath.Join(h.folder, "0_h1_iperf_dump.pcap")
	assert.DeepEqual(t, h.post.deleted, []string{pcap})
	_, err = os.Stat(pcap)
	assert.Assert(t, os.IsNotExist(err))
	assertExists(t, filepath.Join(h.folder, "0_h1_iperf_dump.csv"))
}

func TestRunSkipIfExists(t *testing.T) {
	h := newHarness(t)
	h.opts.SkipIfExists = true
	assert.NilError(t, os.MkdirAll(h.folder, 0755))
	assert.NilError(t, os.WriteFile(filepath.Join(h.folder, "0_h1_iperf_dump.csv"), nil, 0644))

	outcome, err := h.run(t, topology(t, "lia"))
	assert.NilError(t, err)
	assert.Equal(t, outcome.Status, api.Skipped)
	assert.DeepEqual(t, outcome.States, []api.State{api.Init, api.Done})
	assert.Equal(t, h.factories, 0)
	assert.Equal(t, len(h.env.values), 0)
	assert.Equal(t, h.sweeper.sweeps, 0)
}

func TestRunSkipChecksOtherRepetitions(t *testing.T) {
	h := newHarness(t)
	h.opts.SkipIfExists = true
	assert.NilError(t, os.MkdirAll(h.folder, 0755))
	assert.NilError(t, os.WriteFile(filepath.Join(h.folder, "1_h1_iperf_dump.csv"), nil, 0644))

	outcome, err := h.run(t, topology(t, "lia"))
	assert.NilError(t, err)
	assert.Equal(t, outcome.Status, api.Success)
	assert.Equal(t, h.factories, 1)
}

func TestRunClientFailure(t *testing.T) {
	h := newHarness(t)
	h.fabric.clientExit = 1
	outcome, err := h.run(t, topology(t, "lia"))

	var rte *api.RuntimeExecutionError
	assert.Assert(t, errors.As(err, &rte))
	assert.Equal(t, rte.Node, "h1")
	assert.Equal(t, rte.OutputFolder, h.folder)
	assert.Equal(t, rte.Repetition, 0)
	assert.ErrorContains(t, err, "exit code 1")

	assert.Equal(t, outcome.Status, api.Failure)
	assert.Equal(t, outcome.Err, err)
	assert.DeepEqual(t, outcome.States, []api.State{
		api.Init, api.Validated, api.FabricUp, api.ServersStarted, api.TornDown, api.Failed,
	})
	assert.Equal(t, h.fabric.stops, 1)
	assert.Equal(t, h.sweeper.sweeps, 1)
	assert.Equal(t, len(h.post.extracted), 0)

	// every handle is released on abort
	assert.Assert(t, h.fabric.launched("h2", "iperf3").proc.killed)
	assert.Assert(t, h.fabric.launched("h1", "tcpdump").proc.killed)
}

func TestRunClientTimeout(t *testing.T) {
	h := newHarness(t)
	h.fabric.clientBlock = true
	_, err := h.run(t, topology(t, "lia"))

	var rte *api.RuntimeExecutionError
	assert.Assert(t, errors.As(err, &rte))
	assert.Equal(t, rte.Node, "h1")
	assert.Assert(t, errors.Is(err, context.DeadlineExceeded))
	assert.Assert(t, h.fabric.launched("h1", "iperf3").proc.killed)
	assert.Equal(t, h.fabric.stops, 1)
}

func TestRunServerDoesNotStop(t *testing.T) {
	h := newHarness(t)
	h.fabric.serverStuck = true
	outcome, err := h.run(t, topology(t, "lia"))

	var rte *api.RuntimeExecutionError
	assert.Assert(t, errors.As(err, &rte))
	assert.Equal(t, rte.Node, "h2")
	assert.Equal(t, outcome.States[len(outcome.States)-3], api.ClientsCompleted)
	assert.Assert(t, h.fabric.launched("h2", "iperf3").proc.killed)
	assert.Equal(t, h.fabric.stops, 1)
}

func TestRunPreconditionFailure(t *testing.T) {
	h := newHarness(t)
	h.env.failOn = "net.mptcp.mptcp_enabled"
	outcome, err := h.run(t, topology(t, "lia"))

	var pe *api.PreconditionError
	assert.Assert(t, errors.As(err, &pe))
	assert.Equal(t, outcome.Status, api.Failure)
	assert.DeepEqual(t, outcome.States, []api.State{api.Init, api.TornDown, api.Failed})
	assert.Equal(t, h.factories, 0)
	assert.Equal(t, h.sweeper.sweeps, 0)
}

func TestRunUnavailableCC(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, topology(t, "bbr"))

	var pe *api.PreconditionError
	assert.Assert(t, errors.As(err, &pe))
	assert.DeepEqual(t, pe.Names, []string{"bbr"})
	assert.Equal(t, h.factories, 0)
}

func TestRunDefaultCC(t *testing.T) {
	h := newHarness(t)
	h.opts.DefaultCC = "reno"
	_, err := h.run(t, topology(t, "cubic"))
	assert.NilError(t, err)
	assert.Equal(t, h.env.values["net.ipv4.tcp_congestion_control"], "reno")
}

func TestRunFabricStartFailure(t *testing.T) {
	h := newHarness(t)
	h.fabric.startErr = errors.New("no docker")
	_, err := h.run(t, topology(t, "lia"))

	var rte *api.RuntimeExecutionError
	assert.Assert(t, errors.As(err, &rte))
	assert.ErrorContains(t, err, "no docker")
	assert.Equal(t, h.fabric.stops, 1)
	assert.Equal(t, len(h.fabric.launches), 0)
}

func TestRunInteractive(t *testing.T) {
	h := newHarness(t)
	h.opts.Interactive = true
	consoles := 0
	h.runner.Console = func(_ context.Context, _ *api.TopoConfig, f api.Fabric) error {
		consoles++
		assert.Equal(t, f, api.Fabric(h.fabric))
		return nil
	}
	outcome, err := h.run(t, topology(t, "lia"))
	assert.NilError(t, err)
	assert.Equal(t, consoles, 1)
	assert.Equal(t, outcome.Status, api.Success)
	assert.Equal(t, len(h.fabric.launches), 0)
	assert.Equal(t, h.fabric.stops, 1)
}
