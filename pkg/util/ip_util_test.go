package util

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestAddressScheme(t *testing.T) {
	assert.Equal(t, HostIP(1, 2), "10.0.1.2")
	assert.Equal(t, HostCIDR(0, 12), "10.0.0.12/24")
	assert.Equal(t, HostMAC(1, 12), "00:00:00:00:01:0c")
	assert.Equal(t, Gateway(2), "10.0.2.0")
	assert.Equal(t, Subnet(2), "10.0.2.0/24")
	assert.Equal(t, RoutingTable(0), 1)
}

func TestStripPrefix(t *testing.T) {
	assert.Equal(t, StripPrefix("192.168.1.1/24"), "192.168.1.1")
	assert.Equal(t, StripPrefix("192.168.1.1"), "192.168.1.1")
}
