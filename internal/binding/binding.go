// Package binding holds the in-memory registry of VM bindings and the
// derived subnet metadata the responders need to answer on their behalf.
//
// The registry is mutated exclusively by the config reconciler, which runs
// on the same goroutine as the packet responders (see internal/queue); no
// synchronization is performed here by design.
package binding

import (
	"net"
	"net/netip"
)

// Client is one VM binding: a MAC pinned to an authoritative IP, a
// hostname, a logical link, and the host interface it arrived on.
type Client struct {
	// MAC is the canonical lowercase colon-separated hardware address.
	MAC net.HardwareAddr

	// IPs is the ordered list of addresses for this client. IPs[0] is
	// authoritative; see spec Non-goals on multi-address support.
	IPs []netip.Addr

	// Hostname is the client's FQDN.
	Hostname string

	// Link is the logical L3 link (bridge) used to key subnet lookups.
	Link string

	// Iface is the host interface this binding is pinned to.
	Iface string
}

// IP returns the authoritative address, or the zero value if none is set.
func (c *Client) IP() netip.Addr {
	if len(c.IPs) == 0 {
		return netip.Addr{}
	}

	return c.IPs[0]
}

// Domain returns the portion of Hostname after the first dot, or Hostname
// itself if it contains no dot.
func (c *Client) Domain() string {
	for i := 0; i < len(c.Hostname); i++ {
		if c.Hostname[i] == '.' {
			return c.Hostname[i+1:]
		}
	}

	return c.Hostname
}

// Subnet is the connected-prefix metadata for one link or interface,
// derived from the host route table during reconciliation.
type Subnet struct {
	// Prefix is the connected network, network bits only.
	Prefix netip.Prefix

	// Gateway is the default route's next hop on this link, if any.
	Gateway netip.Addr

	// Device is the egress device of the default route or, when the table
	// has no usable default route, the device of the chosen connected route.
	Device string
}

// Netmask returns the IPv4 subnet mask as a 4-byte net.IP, or nil if Prefix
// is not an IPv4 prefix.
func (s *Subnet) Netmask() net.IP {
	if s == nil || !s.Prefix.Addr().Is4() {
		return nil
	}

	return net.IP(net.CIDRMask(s.Prefix.Bits(), 32))
}

// Broadcast returns the IPv4 broadcast address of Prefix, or the zero
// value if Prefix is not an IPv4 prefix.
func (s *Subnet) Broadcast() netip.Addr {
	if s == nil || !s.Prefix.Addr().Is4() {
		return netip.Addr{}
	}

	base := s.Prefix.Addr().As4()
	mask := net.CIDRMask(s.Prefix.Bits(), 32)

	var bcast [4]byte
	for i := range bcast {
		bcast[i] = base[i] | ^mask[i]
	}

	return netip.AddrFrom4(bcast)
}
