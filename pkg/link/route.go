package link

import (
	"MPTestbed/api"
	"MPTestbed/pkg/util"
	"net"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// AddSourceRoutes lets traffic leave through the interface its source
// address belongs to, so subflows spread over every path:
//
//	ip rule add from 10.0.i.h table i+1
//	ip route add 10.0.i.0/24 dev X scope link table i+1
//	ip route add default via 10.0.i.0 dev X table i+1
//
// The first interface also carries the default route of the main table.
func (lm *LinkManager) AddSourceRoutes(intf api.NodeInterface) error {
	table := util.RoutingTable(intf.Index)
	return Do(intf.NetNs, func() error {
		l, err := netlink.LinkByName(intf.Name)
		if err != nil {
			return errors.Wrapf(err, "failed to get link %s", intf.Name)
		}
		ip, subnet, err := sourceSubnet(intf)
		if err != nil {
			return err
		}

		rule := netlink.NewRule()
		rule.Family = unix.AF_INET
		rule.Src = &net.IPNet{IP: ip, Mask: net.CIDRMask(32, 32)}
		rule.Table = table
		if err = netlink.RuleAdd(rule); err != nil {
			return errors.Wrapf(err, "failed to add rule for %s", intf.Ipv4)
		}

		index := l.Attrs().Index
		if err = netlink.RouteAdd(&netlink.Route{
			LinkIndex: index,
			Dst:       subnet,
			Scope:     netlink.SCOPE_LINK,
			Table:     table,
		}); err != nil {
			return errors.Wrapf(err, "failed to add link route to table %d", table)
		}

		gw := net.ParseIP(util.Gateway(intf.Index))
		tables := []int{table}
		if intf.Index == 0 {
			tables = append(tables, unix.RT_TABLE_MAIN)
		}
		for _, t := range tables {
			if err = netlink.RouteAdd(&netlink.Route{
				LinkIndex: index,
				Gw:        gw,
				Table:     t,
				Flags:     int(netlink.FLAG_ONLINK),
			}); err != nil {
				return errors.Wrapf(err, "failed to add default route to table %d", t)
			}
		}
		return nil
	})
}

// sourceSubnet returns the address of intf and the subnet its index is
// assigned to.
func sourceSubnet(intf api.NodeInterface) (net.IP, *net.IPNet, error) {
	ip, _, err := net.ParseCIDR(intf.Ipv4)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "invalid address of %s", intf.Name)
	}
	_, subnet, err := net.ParseCIDR(util.Subnet(intf.Index))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "invalid subnet of %s", intf.Name)
	}
	if !subnet.Contains(ip) {
		return nil, nil, errors.Errorf("%s of %s is outside %s", intf.Ipv4, intf.Name, subnet)
	}
	return ip, subnet, nil
}
