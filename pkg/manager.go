package pkg

import (
	"MPTestbed/api"
	"MPTestbed/pkg/link"
	"MPTestbed/pkg/node"
	"MPTestbed/pkg/ovs"
	"MPTestbed/pkg/util"
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// FabricOptions configure the containers of a fabric.
type FabricOptions struct {
	Image string
	Binds []string
}

// LinkPlan is one link with both of its endpoints.
type LinkPlan struct {
	Link   api.Link
	Source api.NodeInterface
	Target api.NodeInterface
}

// Manager builds the emulated network of one topology: a container per
// host, an Open vSwitch bridge per switch and a shaped veth pair per link.
// It implements api.Fabric.
type Manager struct {
	cfg   *api.TopoConfig
	links []LinkPlan
	intfs map[string][]api.NodeInterface // host id to its interfaces, in index order
	hosts map[string]*node.Host

	om *ovs.OvsManager
	lm *link.LinkManager
	cm *node.ContainerManager

	// created resources, released by Stop
	bridges    []string
	containers []string
	rootVeths  []string
}

// NewManager plans the fabric of cfg. Nothing is created before Start.
func NewManager(cfg *api.TopoConfig, opts FabricOptions) (*Manager, error) {
	links, intfs, err := PlanInterfaces(cfg)
	if err != nil {
		return nil, err
	}
	cm, err := node.NewContainerManager(opts.Image, opts.Binds)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:   cfg,
		links: links,
		intfs: intfs,
		hosts: make(map[string]*node.Host),
		om:    ovs.NewOvsManager(),
		lm:    link.NewLinkManager(),
		cm:    cm,
	}
	for _, id := range cfg.Hosts() {
		m.hosts[id] = node.NewHost(id, intfs[id], cm)
	}
	return m, nil
}

// NewFabricFactory returns a factory of docker and Open vSwitch fabrics.
func NewFabricFactory(opts FabricOptions) api.FabricFactory {
	return func(cfg *api.TopoConfig) (api.Fabric, error) {
		return NewManager(cfg, opts)
	}
}

func interfaceName(id string, index int) string {
	return fmt.Sprintf("%s-eth%d", id, index)
}

// PlanInterfaces names and addresses both endpoints of every link. Host
// interfaces are numbered from 0 in link order and addressed by the
// util address scheme; switch ports are numbered from 1.
func PlanInterfaces(cfg *api.TopoConfig) ([]LinkPlan, map[string][]api.NodeInterface, error) {
	next := make(map[string]int)
	intfs := make(map[string][]api.NodeInterface)
	endpoint := func(id string) (api.NodeInterface, error) {
		n, ok := cfg.Node(id)
		if !ok {
			return api.NodeInterface{}, &api.ConfigValidationError{Reason: "link references unknown node", Nodes: []string{id}}
		}
		if n.Kind == api.Switch {
			next[id]++
			return api.NodeInterface{
				Index:    next[id],
				Name:     interfaceName(id, next[id]),
				NodeName: id,
			}, nil
		}

		hostNum, err := HostNumber(id)
		if err != nil {
			return api.NodeInterface{}, &api.ConfigValidationError{Reason: err.Error(), Nodes: []string{id}}
		}
		i := next[id]
		if i >= util.MaxInterfaces {
			return api.NodeInterface{}, &api.ConfigValidationError{
				Reason: fmt.Sprintf("more than %d links on one host", util.MaxInterfaces),
				Nodes:  []string{id},
			}
		}
		next[id]++
		intf := api.NodeInterface{
			Index:    i,
			Name:     interfaceName(id, i),
			Mac:      util.HostMAC(i, hostNum),
			Ipv4:     util.HostCIDR(i, hostNum),
			NodeName: id,
		}
		intfs[id] = append(intfs[id], intf)
		return intf, nil
	}

	plans := make([]LinkPlan, 0, len(cfg.Links))
	for _, l := range cfg.Links {
		src, err := endpoint(l.Source)
		if err != nil {
			return nil, nil, err
		}
		dst, err := endpoint(l.Target)
		if err != nil {
			return nil, nil, err
		}
		plans = append(plans, LinkPlan{Link: l, Source: src, Target: dst})
	}
	return plans, intfs, nil
}

// Start creates bridges, containers, links and routes, in that order. On
// error the resources created so far stay registered for Stop.
func (m *Manager) Start(ctx context.Context) error {
	for _, sw := range m.cfg.Switches() {
		if err := m.om.CreateBridge(sw); err != nil {
			return err
		}
		m.bridges = append(m.bridges, sw)
	}

	netns := make(map[string]string)
	for _, id := range m.cfg.Hosts() {
		m.containers = append(m.containers, id)
		path, err := m.cm.AddNode(ctx, id)
		if err != nil {
			return err
		}
		netns[id] = path
	}
	for id, intfs := range m.intfs {
		for i := range intfs {
			intfs[i].NetNs = netns[id]
		}
	}

	for _, lp := range m.links {
		src, dst := m.resolve(lp.Source, netns), m.resolve(lp.Target, netns)
		if err := m.lm.CreateVeth(src, dst); err != nil {
			return err
		}
		for _, end := range []api.NodeInterface{src, dst} {
			if end.NetNs == "" {
				m.rootVeths = append(m.rootVeths, end.Name)
			}
			if end.BrName != "" {
				if err := m.om.AddVeth(end.NodeName, end.Name); err != nil {
					return err
				}
			}
			if err := m.lm.Shape(end, lp.Link.Properties); err != nil {
				return err
			}
		}
		log.WithFields(log.Fields{
			"source":    lp.Link.Source,
			"target":    lp.Link.Target,
			"bandwidth": lp.Link.Properties.Bandwidth,
			"latency":   lp.Link.Properties.Latency,
			"queue":     lp.Link.Properties.QueueSize,
		}).Info("link up")
	}

	for _, id := range m.cfg.Hosts() {
		for _, intf := range m.intfs[id] {
			if err := m.lm.AddSourceRoutes(intf); err != nil {
				return errors.Wrapf(err, "failed to route %s", id)
			}
		}
	}
	log.WithField("topology", m.cfg.TopologyID).Info("fabric started")
	return nil
}

// resolve fills in the runtime location of a planned endpoint.
func (m *Manager) resolve(intf api.NodeInterface, netns map[string]string) api.NodeInterface {
	if path, ok := netns[intf.NodeName]; ok {
		intf.NetNs = path
	} else {
		intf.BrName = m.om.BridgeName(intf.NodeName)
	}
	return intf
}

// Stop removes containers, the veths left in the root namespace and the
// bridges. Every step is attempted; the failures are reported together.
func (m *Manager) Stop(ctx context.Context) error {
	errs := make([]error, 0)
	for _, id := range m.containers {
		if err := m.cm.DeleteNode(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	for _, veth := range m.rootVeths {
		if err := m.lm.DeleteVeth(veth); err != nil {
			errs = append(errs, err)
		}
	}
	for _, sw := range m.bridges {
		if err := m.om.DeleteBridge(sw); err != nil {
			errs = append(errs, err)
		}
	}
	m.containers, m.rootVeths, m.bridges = nil, nil, nil
	log.WithField("topology", m.cfg.TopologyID).Info("fabric stopped")
	return util.ReportErrs(errs)
}

func (m *Manager) Node(id string) (api.NodeHandle, error) {
	h, ok := m.hosts[id]
	if !ok {
		return nil, errors.Errorf("no host %s in topology %s", id, m.cfg.TopologyID)
	}
	return h, nil
}
