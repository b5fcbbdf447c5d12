package util

import (
	"fmt"
	"strings"
)

// Address scheme of emulated hosts: interface i of host h is 10.0.i.h/24,
// so the i-th interfaces of all hosts share a subnet and 10.0.i.0 acts as
// the gateway of table i+1.
const (
	HostIPFormat  = "10.0.%d.%d"
	HostMACFormat = "00:00:00:00:%02x:%02x"
	PrefixLen     = 24
	MaxInterfaces = 255
)

func HostIP(intf, host int) string {
	return fmt.Sprintf(HostIPFormat, intf, host)
}

// HostCIDR is HostIP with the subnet prefix, e.g. 10.0.1.2/24.
func HostCIDR(intf, host int) string {
	return fmt.Sprintf("%s/%d", HostIP(intf, host), PrefixLen)
}

func HostMAC(intf, host int) string {
	return fmt.Sprintf(HostMACFormat, intf, host)
}

func Gateway(intf int) string {
	return HostIP(intf, 0)
}

func Subnet(intf int) string {
	return fmt.Sprintf("%s/%d", Gateway(intf), PrefixLen)
}

// RoutingTable is the policy routing table of interface intf.
func RoutingTable(intf int) int {
	return intf + 1
}

// StripPrefix turns 192.168.1.1/24 into 192.168.1.1.
func StripPrefix(ip string) string {
	addr, _, _ := strings.Cut(ip, "/")
	return addr
}
