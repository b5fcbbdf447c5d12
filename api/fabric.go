package api

import (
	"context"
	"time"
)

// CommandLine is an argument vector run on an emulated node. Output, when
// set, names the host file that receives the command's stdout and stderr;
// otherwise the output is kept in the ExecResult.
type CommandLine struct {
	Args   []string
	Output string
}

// ExecResult is what a finished process reports back.
type ExecResult struct {
	Output   string
	ExitCode int
}

func (r ExecResult) Success() bool {
	return r.ExitCode == 0
}

// Fabric is the emulated network built from a TopoConfig.
type Fabric interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Node(id string) (NodeHandle, error)
}

// FabricFactory builds (but does not start) a fabric for a topology.
type FabricFactory func(cfg *TopoConfig) (Fabric, error)

type NodeHandle interface {
	Name() string
	// IP is the address of the first interface, without prefix.
	IP() string
	// IPs lists the addresses of every interface, without prefix.
	IPs() []string
	// RunAsync starts cmd in the background.
	RunAsync(ctx context.Context, cmd CommandLine) (Process, error)
	// RunCapturing starts cmd so that its exit status can be recovered
	// through Process.Wait.
	RunCapturing(ctx context.Context, cmd CommandLine) (Process, error)
}

type Process interface {
	// Wait blocks until the process exits or ctx is done.
	Wait(ctx context.Context) (ExecResult, error)
	// Interrupt delivers SIGINT.
	Interrupt() error
	// WaitBriefly reports whether the process exited within timeout.
	WaitBriefly(timeout time.Duration) bool
	// Kill forcefully terminates the process.
	Kill() error
}
