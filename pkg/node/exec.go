package node

import (
	"MPTestbed/api"
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	inspectRetries  = 20
	inspectInterval = 50 * time.Millisecond
)

// execState is what the daemon reports about an exec.
type execState struct {
	Running  bool
	ExitCode int
	Pid      int
}

type inspectFunc func() (execState, error)

// Process is a command exec'd in a container. pid is its host pid, which
// is what signals are delivered to. It stays 0 until the daemon has
// started the command.
type Process struct {
	node    string
	inspect inspectFunc

	mu  sync.Mutex
	pid int

	done   chan struct{}
	result api.ExecResult
	err    error
}

func newProcess(node string, inspect inspectFunc) *Process {
	return &Process{node: node, inspect: inspect, done: make(chan struct{})}
}

// resolvePid polls the daemon until the exec reports its pid. The attach
// returns before the daemon starts the command, so the first inspections
// may still see pid 0.
func (p *Process) resolvePid() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; p.pid <= 0 && i < inspectRetries; i++ {
		if i > 0 {
			time.Sleep(inspectInterval)
		}
		st, err := p.inspect()
		if err != nil {
			return 0, errors.Wrapf(err, "failed to inspect process on %s", p.node)
		}
		p.pid = st.Pid
		if p.pid <= 0 && p.exited() {
			break
		}
	}
	return p.pid, nil
}

// collect demultiplexes the exec stream into out until it ends, then
// fetches the exit code. Runs once per process.
func (p *Process) collect(src io.Reader, out io.Writer, capture bool, closeFn func()) {
	defer close(p.done)

	var buf bytes.Buffer
	dst := out
	if capture {
		dst = io.MultiWriter(out, &buf)
	}
	_, err := stdcopy.StdCopy(dst, dst, src)
	closeFn()
	if err != nil {
		p.err = errors.Wrapf(err, "failed to read output of %s", p.node)
		return
	}

	for i := 0; i < inspectRetries; i++ {
		st, err := p.inspect()
		if err != nil {
			p.err = errors.Wrapf(err, "failed to inspect process on %s", p.node)
			return
		}
		if !st.Running {
			p.result = api.ExecResult{Output: buf.String(), ExitCode: st.ExitCode}
			return
		}
		time.Sleep(inspectInterval)
	}
	p.err = errors.Errorf("process on %s closed its output but kept running", p.node)
}

func (p *Process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Process) Wait(ctx context.Context) (api.ExecResult, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return api.ExecResult{}, ctx.Err()
	}
}

func (p *Process) WaitBriefly(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.done:
		return true
	case <-t.C:
		return false
	}
}

func (p *Process) Interrupt() error {
	return p.signal(unix.SIGINT)
}

func (p *Process) Kill() error {
	return p.signal(unix.SIGKILL)
}

func (p *Process) signal(sig unix.Signal) error {
	if p.exited() {
		return nil
	}
	pid, err := p.resolvePid()
	if err != nil {
		return err
	}
	if pid <= 0 {
		if p.exited() {
			return nil
		}
		return errors.Errorf("no pid known for process on %s", p.node)
	}
	log.WithFields(log.Fields{"node": p.node, "pid": pid, "signal": sig.String()}).Debug("signalling")
	if err = unix.Kill(pid, sig); err != nil && err != unix.ESRCH {
		return errors.Wrapf(err, "failed to signal process %d on %s", pid, p.node)
	}
	return nil
}
