package sysctl

import (
	"MPTestbed/api"
	"errors"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/fs"
)

func newEnv(t *testing.T) *Env {
	t.Helper()
	dir := fs.NewDir(t, "proc-sys",
		fs.WithDir("net",
			fs.WithDir("mptcp", fs.WithFile("mptcp_enabled", "0\n")),
			fs.WithDir("ipv4",
				fs.WithFile("tcp_congestion_control", "cubic\n"),
				fs.WithFile("tcp_available_congestion_control", "reno cubic lia olia\n"),
			),
		),
	)
	return &Env{Root: dir.Path()}
}

func TestSetAndVerify(t *testing.T) {
	env := newEnv(t)
	assert.NilError(t, env.SetAndVerify(MPTCPEnabled, "1"))
	got, err := env.Get(MPTCPEnabled)
	assert.NilError(t, err)
	assert.Equal(t, got, "1")

	assert.NilError(t, env.SetAndVerify(CongestionControl, "reno"))
	got, err = env.Get(CongestionControl)
	assert.NilError(t, err)
	assert.Equal(t, got, "reno")
}

func TestSetAndVerifyMissingVariable(t *testing.T) {
	env := newEnv(t)
	err := env.SetAndVerify("net.core.nothing", "1")
	var pe *api.PreconditionError
	assert.Assert(t, errors.As(err, &pe))
	assert.ErrorContains(t, err, "could not set net.core.nothing")
}

func TestSetAndVerifyNotAFile(t *testing.T) {
	env := newEnv(t)
	err := env.SetAndVerify("net.mptcp", "1")
	var pe *api.PreconditionError
	assert.Assert(t, errors.As(err, &pe))
}

func TestAvailableCongestionControl(t *testing.T) {
	env := newEnv(t)
	ccs, err := env.AvailableCongestionControl()
	assert.NilError(t, err)
	assert.DeepEqual(t, ccs, []string{"reno", "cubic", "lia", "olia"})

	env.Root = "/nonexistent"
	_, err = env.AvailableCongestionControl()
	var pe *api.PreconditionError
	assert.Assert(t, errors.As(err, &pe))
}
