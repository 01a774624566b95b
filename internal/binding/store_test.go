package binding_test

import (
	"net"
	"net/netip"
	"testing"

	"github.com/grnet/tapdhcpd/internal/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_evictionLeavesOtherInterfaces(t *testing.T) {
	s := binding.NewStore()

	mac0, err := net.ParseMAC("52:54:00:12:34:56")
	require.NoError(t, err)
	mac1, err := net.ParseMAC("52:54:00:12:34:57")
	require.NoError(t, err)

	s.UpsertClient(&binding.Client{
		MAC: mac0, Iface: "tap0", Link: "br0", Hostname: "vm0",
		IPs: []netip.Addr{netip.MustParseAddr("10.0.0.7")},
	})
	s.UpsertClient(&binding.Client{
		MAC: mac1, Iface: "tap1", Link: "br0", Hostname: "vm1",
		IPs: []netip.Addr{netip.MustParseAddr("10.0.0.8")},
	})
	s.SetIndex("tap0", 5)
	s.SetIndex("tap1", 6)
	s.SetSubnet6("tap0", &binding.Subnet{Prefix: netip.MustParsePrefix("2001:db8::/64")})
	s.SetSubnet4("br0", &binding.Subnet{Prefix: netip.MustParsePrefix("10.0.0.0/24")})

	// Deletion event on tap0 (spec.md §4.4 "delete event").
	s.RemoveSubnet6("tap0")
	s.RemoveClientsByIface("tap0")
	s.RemoveIndex("tap0")

	_, ok := s.ClientByMAC(mac0.String())
	assert.False(t, ok, "invariant 7: no reply may be sourced from an evicted iface")

	c1, ok := s.ClientByMAC(mac1.String())
	assert.True(t, ok)
	assert.Equal(t, "tap1", c1.Iface)

	_, ok = s.IfaceByIndex(5)
	assert.False(t, ok)

	iface, ok := s.IfaceByIndex(6)
	assert.True(t, ok)
	assert.Equal(t, "tap1", iface)

	_, ok = s.Subnet6("tap0")
	assert.False(t, ok)

	// The IPv4 subnet, keyed by the shared link, must survive tap0's
	// removal since tap1 is on the same bridge.
	subnet4, ok := s.Subnet4("br0")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.0/24", subnet4.Prefix.String())
}
