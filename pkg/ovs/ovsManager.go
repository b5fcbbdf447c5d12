package ovs

import (
	"github.com/digitalocean/go-openvswitch/ovs"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

const BridgePrefix = "mpbr-"

// OvsManager maps every switch node to its own learning bridge.
type OvsManager struct {
	oClient *ovs.Client
	prefix  string
}

func NewOvsManager() *OvsManager {
	return &OvsManager{ovs.New(), BridgePrefix}
}

// BridgeName is the bridge of switch node sw.
func (om *OvsManager) BridgeName(sw string) string {
	return om.prefix + sw
}

// CreateBridge adds the bridge of sw in standalone mode with a single
// NORMAL flow, so it behaves like a plain learning switch.
func (om *OvsManager) CreateBridge(sw string) error {
	bridge := om.BridgeName(sw)
	if err := om.oClient.VSwitch.AddBridge(bridge); err != nil {
		return errors.Wrapf(err, "failed to add bridge %s", bridge)
	}
	if err := om.oClient.VSwitch.SetFailMode(bridge, ovs.FailModeStandalone); err != nil {
		return errors.Wrapf(err, "failed to set fail mode of %s", bridge)
	}
	if err := om.oClient.OpenFlow.AddFlow(bridge, &ovs.Flow{
		Priority: 0,
		Actions:  []ovs.Action{ovs.Normal()},
	}); err != nil {
		return errors.Wrapf(err, "failed to add normal flow to %s", bridge)
	}
	log.WithField("bridge", bridge).Debug("bridge created")
	return nil
}

func (om *OvsManager) DeleteBridge(sw string) error {
	bridge := om.BridgeName(sw)
	if err := om.oClient.VSwitch.DeleteBridge(bridge); err != nil {
		return errors.Wrapf(err, "failed to delete bridge %s", bridge)
	}
	return nil
}

// AddVeth attaches a root namespace veth end to the bridge of sw.
func (om *OvsManager) AddVeth(sw, veth string) error {
	link, err := netlink.LinkByName(veth)
	if err != nil {
		return errors.Wrapf(err, "failed to find veth interface %s", veth)
	}
	if err = netlink.LinkSetUp(link); err != nil {
		return errors.Wrapf(err, "failed to bring up veth interface %s", veth)
	}
	bridge := om.BridgeName(sw)
	if err = om.oClient.VSwitch.AddPort(bridge, veth); err != nil {
		return errors.Wrapf(err, "failed to add %s to OVS bridge %s", veth, bridge)
	}
	return nil
}
