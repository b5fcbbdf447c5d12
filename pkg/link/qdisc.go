package link

import (
	"MPTestbed/api"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

// Handles of the shaping tree. Every interface carries a single class, all
// traffic goes through it.
var (
	RootHandle  = netlink.MakeHandle(1, 0)
	ClassHandle = netlink.MakeHandle(1, 1)
	NetemHandle = netlink.MakeHandle(10, 0)
)

// RateBits converts a bandwidth in Mbps to the bits per second HTB expects.
func RateBits(bandwidthMbps float64) uint64 {
	return uint64(bandwidthMbps * 1e6)
}

// LatencyMicros converts a one way latency in ms to netem's microseconds.
func LatencyMicros(latencyMs float64) uint32 {
	return uint32(latencyMs * 1000)
}

// Shape limits the egress of intf. Both ends of a link are shaped the same
// way, so each direction sees the latency once.
//
//	tc qdisc add dev X root handle 1: htb default 1
//	tc class add dev X parent 1: classid 1:1 htb rate <bw>mbit
//	tc qdisc add dev X parent 1:1 handle 10: netem delay <lat>ms limit <queue>
func (lm *LinkManager) Shape(intf api.NodeInterface, props api.LinkProperties) error {
	return Do(intf.NetNs, func() error {
		l, err := netlink.LinkByName(intf.Name)
		if err != nil {
			return errors.Wrapf(err, "failed to get link %s", intf.Name)
		}
		index := l.Attrs().Index

		root := netlink.NewHtb(netlink.QdiscAttrs{
			LinkIndex: index,
			Handle:    RootHandle,
			Parent:    netlink.HANDLE_ROOT,
		})
		root.Defcls = 1
		if err = netlink.QdiscAdd(root); err != nil {
			return errors.Wrapf(err, "failed to add HTB root qdisc to %s", intf.Name)
		}

		rate := RateBits(props.Bandwidth)
		class := netlink.NewHtbClass(netlink.ClassAttrs{
			LinkIndex: index,
			Handle:    ClassHandle,
			Parent:    RootHandle,
		}, netlink.HtbClassAttrs{
			Rate: rate,
			Ceil: rate,
			Prio: 1,
		})
		if err = netlink.ClassAdd(class); err != nil {
			return errors.Wrapf(err, "failed to add HTB class to %s", intf.Name)
		}

		netem := netlink.NewNetem(netlink.QdiscAttrs{
			LinkIndex: index,
			Parent:    ClassHandle,
			Handle:    NetemHandle,
		}, netlink.NetemQdiscAttrs{
			Latency: LatencyMicros(props.Latency),
			Limit:   uint32(props.QueueSize),
		})
		if err = netlink.QdiscAdd(netem); err != nil {
			return errors.Wrapf(err, "failed to add netem qdisc to %s", intf.Name)
		}

		log.WithFields(log.Fields{
			"intf":      intf.Name,
			"bandwidth": props.Bandwidth,
			"latency":   props.Latency,
			"queue":     props.QueueSize,
		}).Debug("link shaped")
		return nil
	})
}
