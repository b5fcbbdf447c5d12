package node

import (
	"MPTestbed/api"
	"MPTestbed/pkg/util"
	"context"
)

// Executor starts commands inside the container of a host.
type Executor interface {
	Exec(ctx context.Context, id string, cmd api.CommandLine, capture bool) (api.Process, error)
}

// Host is the handle of an emulated host once the fabric is up.
type Host struct {
	ID         string
	Interfaces []api.NodeInterface
	exec       Executor
}

func NewHost(id string, intfs []api.NodeInterface, exec Executor) *Host {
	return &Host{ID: id, Interfaces: intfs, exec: exec}
}

func (h *Host) Name() string {
	return h.ID
}

func (h *Host) IP() string {
	if len(h.Interfaces) == 0 {
		return ""
	}
	return util.StripPrefix(h.Interfaces[0].Ipv4)
}

func (h *Host) IPs() []string {
	ips := make([]string, 0, len(h.Interfaces))
	for _, intf := range h.Interfaces {
		ips = append(ips, util.StripPrefix(intf.Ipv4))
	}
	return ips
}

func (h *Host) RunAsync(ctx context.Context, cmd api.CommandLine) (api.Process, error) {
	return h.exec.Exec(ctx, h.ID, cmd, false)
}

func (h *Host) RunCapturing(ctx context.Context, cmd api.CommandLine) (api.Process, error) {
	return h.exec.Exec(ctx, h.ID, cmd, true)
}
