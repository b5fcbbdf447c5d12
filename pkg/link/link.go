package link

import (
	"MPTestbed/api"
	"net"

	ns "github.com/containernetworking/plugins/pkg/ns"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

const DefaultMTU = 1500

// LinkManager creates, shapes and routes the veth pairs of the fabric.
type LinkManager struct {
	MTU int
}

func NewLinkManager() *LinkManager {
	return &LinkManager{MTU: DefaultMTU}
}

// Do runs fn inside the network namespace at path, or in the current one
// when path is empty.
func Do(path string, fn func() error) error {
	if path == "" {
		return fn()
	}
	netns, err := ns.GetNS(path)
	if err != nil {
		return errors.Wrapf(err, "failed to get namespace %s", path)
	}
	defer netns.Close()
	return netns.Do(func(_ ns.NetNS) error {
		return fn()
	})
}

// CreateVeth connects a and b with a veth pair. Each end is moved into its
// namespace, gets its MAC and address if set, and is brought up.
func (lm *LinkManager) CreateVeth(a, b api.NodeInterface) error {
	attrs := netlink.NewLinkAttrs()
	attrs.Name = a.Name
	attrs.MTU = lm.MTU
	veth := &netlink.Veth{
		LinkAttrs: attrs,
		PeerName:  b.Name,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return errors.Wrapf(err, "failed to create veth pair %s<->%s", a.Name, b.Name)
	}
	for _, end := range []api.NodeInterface{a, b} {
		if err := lm.setupEnd(end); err != nil {
			return err
		}
	}
	log.WithFields(log.Fields{"a": a.Name, "b": b.Name}).Debug("veth pair created")
	return nil
}

func (lm *LinkManager) setupEnd(intf api.NodeInterface) error {
	if intf.NetNs != "" {
		l, err := netlink.LinkByName(intf.Name)
		if err != nil {
			return errors.Wrapf(err, "failed to get link %s", intf.Name)
		}
		netns, err := ns.GetNS(intf.NetNs)
		if err != nil {
			return errors.Wrapf(err, "failed to get namespace of %s", intf.NodeName)
		}
		err = netlink.LinkSetNsFd(l, int(netns.Fd()))
		netns.Close()
		if err != nil {
			return errors.Wrapf(err, "failed to move %s into %s", intf.Name, intf.NodeName)
		}
	}

	return Do(intf.NetNs, func() error {
		l, err := netlink.LinkByName(intf.Name)
		if err != nil {
			return errors.Wrapf(err, "failed to get link %s", intf.Name)
		}
		if intf.Mac != "" {
			hw, err := net.ParseMAC(intf.Mac)
			if err != nil {
				return errors.Wrapf(err, "invalid mac of %s", intf.Name)
			}
			if err = netlink.LinkSetHardwareAddr(l, hw); err != nil {
				return errors.Wrapf(err, "failed to set mac of %s", intf.Name)
			}
		}
		if intf.Ipv4 != "" {
			addr, err := netlink.ParseAddr(intf.Ipv4)
			if err != nil {
				return errors.Wrapf(err, "invalid address of %s", intf.Name)
			}
			if err = netlink.AddrAdd(l, addr); err != nil {
				return errors.Wrapf(err, "failed to add %s to %s", intf.Ipv4, intf.Name)
			}
		}
		if err = netlink.LinkSetUp(l); err != nil {
			return errors.Wrapf(err, "failed to set %s up", intf.Name)
		}
		return nil
	})
}

// DeleteVeth removes a veth living in the current namespace, and with it
// its peer. A missing link is not an error.
func (lm *LinkManager) DeleteVeth(name string) error {
	l, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrapf(err, "failed to get link %s", name)
	}
	if err = netlink.LinkDel(l); err != nil {
		return errors.Wrapf(err, "failed to delete %s", name)
	}
	return nil
}
