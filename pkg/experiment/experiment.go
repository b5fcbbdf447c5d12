package experiment

import (
	"MPTestbed/api"
	"MPTestbed/pkg"
	"MPTestbed/pkg/iperf"
	"MPTestbed/pkg/rtt"
	"MPTestbed/pkg/sysctl"
	"MPTestbed/pkg/util"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultRuntime     = 120 * time.Second
	DefaultInterval    = 100 * time.Millisecond
	DefaultWarmUp      = time.Second
	DefaultSettle      = time.Second
	DefaultClientGrace = 5 * time.Second
	DefaultServerGrace = time.Second
)

// Environment applies and verifies kernel preconditions.
type Environment interface {
	SetAndVerify(name, value string) error
	AvailableCongestionControl() ([]string, error)
}

// PostProcessor turns captures into RTT tables after a run.
type PostProcessor interface {
	ExtractRTT(ctx context.Context, pcap string) (string, error)
	DeleteFile(path string) error
}

// Sweeper force-terminates leftover traffic generators and captures.
type Sweeper interface {
	Sweep() error
}

// Console takes over a running fabric until the user leaves it.
type Console func(ctx context.Context, cfg *api.TopoConfig, fabric api.Fabric) error

type Options struct {
	BaseFolder string
	Runtime    time.Duration
	Interval   time.Duration // report interval of the traffic generator

	Capture      bool
	KeepPcap     bool
	SkipIfExists bool
	Interactive  bool

	// DefaultCC, when set, is pinned as the kernel default algorithm.
	DefaultCC string

	WarmUp      time.Duration // between server and client launch
	Settle      time.Duration // after interrupts, before the kill sweep
	ClientGrace time.Duration // added to Runtime when waiting for a client
	ServerGrace time.Duration // for interrupted servers and captures
}

func DefaultOptions() Options {
	return Options{
		BaseFolder:  iperf.DefaultBaseFolder,
		Runtime:     DefaultRuntime,
		Interval:    DefaultInterval,
		Capture:     true,
		KeepPcap:    true,
		WarmUp:      DefaultWarmUp,
		Settle:      DefaultSettle,
		ClientGrace: DefaultClientGrace,
		ServerGrace: DefaultServerGrace,
	}
}

// Runner drives repetitions of an experiment. One Runner must not run two
// repetitions concurrently against the same fabric.
type Runner struct {
	NewFabric api.FabricFactory
	Env       Environment
	Post      PostProcessor
	Sweeper   Sweeper
	Resolver  *pkg.Resolver
	Console   Console
}

// NewRunner wires the host collaborators around a fabric factory.
func NewRunner(newFabric api.FabricFactory) *Runner {
	// consoles of consecutive repetitions take turns on stdin
	stdin := pkg.NewLineSource(os.Stdin)
	return &Runner{
		NewFabric: newFabric,
		Env:       sysctl.New(),
		Post:      rtt.NewExtractor(),
		Sweeper:   util.NewProcessSweeper(util.TrafficProcesses...),
		Resolver:  pkg.NewResolver(),
		Console: func(ctx context.Context, cfg *api.TopoConfig, fabric api.Fabric) error {
			return pkg.NewConsole(cfg, fabric, stdin, os.Stdout).Run(ctx)
		},
	}
}

type clientRun struct {
	pairing api.Pairing
	proc    api.Process
	capture api.Process
}

// run is the state of one repetition.
type run struct {
	*Runner
	cfg  *api.TopoConfig
	rep  int
	opts Options

	folder   string
	pairings []api.Pairing
	fabric   api.Fabric
	servers  map[string]api.Process
	clients  []*clientRun
	states   []api.State
}

// Run executes one repetition of cfg. Teardown is attempted on every path
// that created a fabric. The returned error is the first failure
// encountered; the outcome carries it as well.
func (r *Runner) Run(ctx context.Context, cfg *api.TopoConfig, repetition int, opts Options) (api.Outcome, error) {
	x := &run{
		Runner:  r,
		cfg:     cfg,
		rep:     repetition,
		opts:    opts,
		servers: make(map[string]api.Process),
	}
	x.enter(api.Init)

	skipped, err := x.validate()
	if err == nil && skipped {
		x.enter(api.Done)
		return x.outcome(api.Skipped, "already done", nil), nil
	}
	if err == nil {
		err = x.execute(ctx)
	}
	if err != nil {
		x.abort()
	}

	if terr := x.teardown(ctx); terr != nil {
		log.WithError(terr).Error("teardown failed")
		if err == nil {
			err = &api.RuntimeExecutionError{
				OutputFolder: x.folder, Repetition: x.rep, Reason: "teardown failed", Err: terr,
			}
		}
	}

	if err != nil {
		x.enter(api.Failed)
		return x.outcome(api.Failure, err.Error(), err), err
	}

	if opts.Capture && !opts.Interactive {
		x.postProcess(ctx)
	}
	x.enter(api.Done)
	if opts.Interactive {
		return x.outcome(api.Success, "interactive session", nil), nil
	}
	return x.outcome(api.Success, "", nil), nil
}

func (x *run) enter(s api.State) {
	x.states = append(x.states, s)
	log.WithFields(log.Fields{
		"state":      s.String(),
		"repetition": x.rep,
		"folder":     x.folder,
	}).Debug("experiment state")
}

func (x *run) outcome(status api.Status, detail string, err error) api.Outcome {
	return api.Outcome{
		OutputFolder: x.folder,
		Repetition:   x.rep,
		Status:       status,
		Detail:       detail,
		Err:          err,
		States:       x.states,
	}
}

// validate resolves pairings, checks for existing artifacts and applies the
// kernel preconditions. Nothing is started here.
func (x *run) validate() (skipped bool, err error) {
	available, err := x.Env.AvailableCongestionControl()
	if err != nil {
		return false, asPrecondition("cannot list congestion control algorithms", err)
	}
	if x.pairings, err = x.Resolver.ResolvePairings(x.cfg, available); err != nil {
		return false, err
	}
	if len(x.pairings) == 0 {
		return false, &api.ConfigValidationError{Reason: "no pairings"}
	}

	folder, err := iperf.OutputFolder(x.opts.BaseFolder, x.cfg, x.pairings)
	if err != nil {
		return false, err
	}
	// nodes see the artifact tree under the same absolute path
	if x.folder, err = filepath.Abs(folder); err != nil {
		return false, errors.Wrapf(err, "failed to resolve %s", folder)
	}
	log.WithFields(log.Fields{"folder": x.folder, "repetition": x.rep}).Info("setting up experiment")

	if x.opts.SkipIfExists {
		if _, err := os.Stat(x.canonicalArtifact()); err == nil {
			log.WithField("folder", x.folder).Info("already done")
			return true, nil
		}
	}
	if err = os.MkdirAll(x.folder, 0755); err != nil {
		return false, errors.Wrapf(err, "failed to create %s", x.folder)
	}

	mptcp := "0"
	if x.Resolver.AnyMultipath(x.pairings) {
		mptcp = "1"
	}
	if err = x.setAndVerify(sysctl.MPTCPEnabled, mptcp); err != nil {
		return false, err
	}
	if x.opts.DefaultCC != "" {
		if err = x.setAndVerify(sysctl.CongestionControl, x.opts.DefaultCC); err != nil {
			return false, err
		}
	}
	x.enter(api.Validated)
	return false, nil
}

func (x *run) setAndVerify(name, value string) error {
	if err := x.Env.SetAndVerify(name, value); err != nil {
		return asPrecondition("could not set "+name+"="+value, err)
	}
	return nil
}

func asPrecondition(reason string, err error) error {
	var pe *api.PreconditionError
	if errors.As(err, &pe) {
		return err
	}
	return &api.PreconditionError{Reason: reason, Err: err}
}

// canonicalArtifact is the last file a complete repetition writes.
func (x *run) canonicalArtifact() string {
	first := x.pairings[0].Client
	if x.opts.Capture {
		return iperf.ArtifactPath(x.folder, x.rep, first, iperf.StreamDump, iperf.ExtCSV)
	}
	return iperf.ArtifactPath(x.folder, x.rep, first, iperf.StreamIperf, iperf.ExtCSV)
}

func (x *run) execute(ctx context.Context) error {
	fabric, err := x.NewFabric(x.cfg)
	if err != nil {
		return x.runtimeError("", "failed to create fabric", err)
	}
	x.fabric = fabric
	if err = fabric.Start(ctx); err != nil {
		return x.runtimeError("", "failed to start fabric", err)
	}
	x.enter(api.FabricUp)

	if x.opts.Interactive {
		if err = x.Console(ctx, x.cfg, fabric); err != nil {
			return x.runtimeError("", "interactive session failed", err)
		}
		return nil
	}

	if err = x.startServers(ctx); err != nil {
		return err
	}
	x.enter(api.ServersStarted)

	if err = x.startClients(ctx); err != nil {
		return err
	}
	if err = x.waitClients(ctx); err != nil {
		return err
	}
	x.enter(api.ClientsCompleted)

	if err = x.stopServers(); err != nil {
		return err
	}
	x.enter(api.CapturesStopped)

	log.WithField("folder", x.folder).Info("done with experiment, cleanup")
	if err = sleep(ctx, x.opts.Settle); err != nil {
		return x.runtimeError("", "interrupted", err)
	}
	return nil
}

func (x *run) node(id string) (api.NodeHandle, error) {
	n, err := x.fabric.Node(id)
	if err != nil {
		return nil, x.runtimeError(id, "unknown node", err)
	}
	return n, nil
}

func (x *run) startServers(ctx context.Context) error {
	for _, p := range x.pairings {
		if _, started := x.servers[p.Server]; started {
			continue
		}
		srv, err := x.node(p.Server)
		if err != nil {
			return err
		}
		cmd := iperf.ServerCommand(p, x.opts.Interval,
			iperf.ArtifactPath(x.folder, x.rep, p.Server, iperf.StreamIperf, iperf.ExtCSV))
		logCommand(p.Server, cmd)
		proc, err := srv.RunAsync(ctx, cmd)
		if err != nil {
			return x.runtimeError(p.Server, "failed to start server", err)
		}
		x.servers[p.Server] = proc
	}
	// clients must not race the server bind
	if err := sleep(ctx, x.opts.WarmUp); err != nil {
		return x.runtimeError("", "interrupted", err)
	}
	return nil
}

func (x *run) startClients(ctx context.Context) error {
	for _, p := range x.pairings {
		cli, err := x.node(p.Client)
		if err != nil {
			return err
		}
		srv, err := x.node(p.Server)
		if err != nil {
			return err
		}
		c := &clientRun{pairing: p}
		x.clients = append(x.clients, c)

		if x.opts.Capture {
			cmd := iperf.CaptureCommand(p.Client, srv.IPs(),
				iperf.ArtifactPath(x.folder, x.rep, p.Client, iperf.StreamDump, iperf.ExtPcap))
			logCommand(p.Client, cmd)
			if c.capture, err = cli.RunAsync(ctx, cmd); err != nil {
				return x.runtimeError(p.Client, "failed to start capture", err)
			}
		}

		cmd := iperf.ClientCommand(p, srv.IP(), x.opts.Runtime, x.opts.Interval,
			iperf.ArtifactPath(x.folder, x.rep, p.Client, iperf.StreamIperf, iperf.ExtCSV))
		logCommand(p.Client, cmd)
		if c.proc, err = cli.RunCapturing(ctx, cmd); err != nil {
			return x.runtimeError(p.Client, "failed to start client", err)
		}
	}
	return nil
}

// waitClients blocks on every client in pairing order and stops its capture
// once it is done. The first failure ends the loop.
func (x *run) waitClients(ctx context.Context) error {
	for _, c := range x.clients {
		wctx, cancel := context.WithTimeout(ctx, x.opts.Runtime+x.opts.ClientGrace)
		res, err := c.proc.Wait(wctx)
		cancel()
		if err != nil {
			if kerr := c.proc.Kill(); kerr != nil {
				log.WithError(kerr).WithField("node", c.pairing.Client).Warn("failed to kill client")
			}
			return x.runtimeError(c.pairing.Client, "client did not finish", err)
		}
		if !res.Success() {
			return x.runtimeError(c.pairing.Client,
				fmt.Sprintf("client did not exit correctly, exit code %d", res.ExitCode), nil)
		}

		if c.capture != nil {
			if err = c.capture.Interrupt(); err != nil {
				log.WithError(err).WithField("node", c.pairing.Client).Warn("failed to interrupt capture")
			}
			if !c.capture.WaitBriefly(x.opts.ServerGrace) {
				log.WithField("node", c.pairing.Client).Warn("capture still running")
			}
		}
	}
	return nil
}

// stopServers interrupts every server after all clients are done.
func (x *run) stopServers() error {
	for _, id := range api.Servers(x.pairings) {
		proc := x.servers[id]
		if err := proc.Interrupt(); err != nil {
			log.WithError(err).WithField("node", id).Warn("failed to interrupt server")
		}
		if !proc.WaitBriefly(x.opts.ServerGrace) {
			if err := proc.Kill(); err != nil {
				log.WithError(err).WithField("node", id).Warn("failed to kill server")
			}
			return x.runtimeError(id, fmt.Sprintf("server did not stop within %v", x.opts.ServerGrace), nil)
		}
	}
	return nil
}

// abort kills every process handle still owned by the run.
func (x *run) abort() {
	procs := make([]api.Process, 0, len(x.clients)*2+len(x.servers))
	for _, c := range x.clients {
		procs = append(procs, c.proc, c.capture)
	}
	for _, p := range x.servers {
		procs = append(procs, p)
	}
	for _, p := range procs {
		if p == nil {
			continue
		}
		if err := p.Kill(); err != nil {
			log.WithError(err).Debug("kill on abort")
		}
	}
}

// teardown stops the fabric and sweeps leftover processes. Runs that never
// built a fabric started no process and have nothing to tear down.
func (x *run) teardown(ctx context.Context) error {
	if x.fabric == nil {
		x.enter(api.TornDown)
		return nil
	}
	// teardown must survive a cancelled run
	ctx = context.WithoutCancel(ctx)

	errs := make([]error, 0, 2)
	if err := x.fabric.Stop(ctx); err != nil {
		errs = append(errs, errors.Wrap(err, "failed to stop fabric"))
	}
	if x.Sweeper != nil {
		if err := x.Sweeper.Sweep(); err != nil {
			errs = append(errs, errors.Wrap(err, "kill sweep"))
		}
	}
	x.enter(api.TornDown)
	return util.ReportErrs(errs)
}

func (x *run) postProcess(ctx context.Context) {
	for _, p := range x.pairings {
		pcap := iperf.ArtifactPath(x.folder, x.rep, p.Client, iperf.StreamDump, iperf.ExtPcap)
		if _, err := x.Post.ExtractRTT(ctx, pcap); err != nil {
			log.WithError(err).WithField("pcap", pcap).Warn("rtt extraction failed")
			continue
		}
		if !x.opts.KeepPcap {
			if err := x.Post.DeleteFile(pcap); err != nil {
				log.WithError(err).WithField("pcap", pcap).Warn("failed to remove capture")
			}
		}
	}
}

func (x *run) runtimeError(node, reason string, err error) error {
	return &api.RuntimeExecutionError{
		OutputFolder: x.folder,
		Repetition:   x.rep,
		Node:         node,
		Reason:       reason,
		Err:          err,
	}
}

func logCommand(node string, cmd api.CommandLine) {
	log.WithFields(log.Fields{"node": node, "cmd": cmd.Args}).Info("running")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
