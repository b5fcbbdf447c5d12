package sysctl

import (
	"MPTestbed/api"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultRoot = "/proc/sys"

	MPTCPEnabled                = "net.mptcp.mptcp_enabled"
	CongestionControl           = "net.ipv4.tcp_congestion_control"
	AvailableCongestionControls = "net.ipv4.tcp_available_congestion_control"
)

// Env reads and writes kernel variables below Root.
type Env struct {
	Root string
}

func New() *Env {
	return &Env{Root: DefaultRoot}
}

func (e *Env) path(name string) string {
	return filepath.Join(e.Root, strings.ReplaceAll(name, ".", "/"))
}

func (e *Env) Get(name string) (string, error) {
	data, err := os.ReadFile(e.path(name))
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", name)
	}
	return strings.TrimSpace(string(data)), nil
}

// SetAndVerify writes value to name and reads it back. A missing variable,
// a failed write or a read back value differing from value is a
// PreconditionError.
func (e *Env) SetAndVerify(name, value string) error {
	if err := os.WriteFile(e.path(name), []byte(value+"\n"), 0644); err != nil {
		return &api.PreconditionError{Reason: "could not set " + name, Err: err}
	}
	got, err := e.Get(name)
	if err != nil {
		return &api.PreconditionError{Reason: "could not verify " + name, Err: err}
	}
	log.WithFields(log.Fields{"name": name, "value": got}).Debug("sysctl set")
	if got != value {
		return &api.PreconditionError{
			Reason: "setting " + name + " failed, should be " + value + " is " + got,
		}
	}
	return nil
}

// AvailableCongestionControl lists the algorithms the kernel advertises.
func (e *Env) AvailableCongestionControl() ([]string, error) {
	out, err := e.Get(AvailableCongestionControls)
	if err != nil {
		return nil, &api.PreconditionError{Reason: "cannot list congestion control algorithms", Err: err}
	}
	return strings.Fields(out), nil
}
