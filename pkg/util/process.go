package util

import (
	"os/exec"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// TrafficProcesses are the programs an experiment, or a console session on
// its fabric, may leave behind.
var TrafficProcesses = []string{"iperf3", "tcpdump", "ping"}

// ProcessSweeper kills processes by name on the whole system. It is the
// last resort after per-process teardown, never the primary mechanism.
type ProcessSweeper struct {
	Names []string
	// Command is the killer, pkill unless overridden.
	Command string
}

func NewProcessSweeper(names ...string) *ProcessSweeper {
	return &ProcessSweeper{Names: names, Command: "pkill"}
}

// Sweep runs the killer once per name. Exit status 1 means nothing matched
// and is ignored.
func (s *ProcessSweeper) Sweep() error {
	errs := make([]error, 0)
	for _, name := range s.Names {
		err := exec.Command(s.Command, name).Run()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			log.WithField("process", name).Debug("killed leftover processes")
		case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		default:
			errs = append(errs, errors.Wrapf(err, "%s %s", s.Command, name))
		}
	}
	return ReportErrs(errs)
}
