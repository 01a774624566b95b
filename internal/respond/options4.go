package respond

import (
	"encoding/binary"
	"net"
	"net/netip"

	"github.com/google/gopacket/layers"
	"github.com/grnet/tapdhcpd/internal/binding"
)

// leaseTime and renewalTime are the sentinel lease durations of spec.md §6.
const (
	leaseTime   = 604800
	renewalTime = 600
)

// serverID is the sentinel dummy server identifier of spec.md §6.
var serverID = net.IPv4(1, 2, 3, 4)

// ipv4Option builds a DHCPOption carrying one IPv4 address.
func ipv4Option(t layers.DHCPOpt, ip net.IP) layers.DHCPOption {
	return layers.NewDHCPOption(t, ip.To4())
}

// durationOption builds a DHCPOption carrying a 32-bit seconds value.
func durationOption(t layers.DHCPOpt, seconds uint32) layers.DHCPOption {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, seconds)

	return layers.NewDHCPOption(t, buf)
}

// msgTypeOption builds the DHCP message-type option.
func msgTypeOption(t layers.DHCPMsgType) layers.DHCPOption {
	return layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(t)})
}

// resolverOption coalesces the two operator-provided recursive resolvers
// (spec.md §6: "Recursive DNS servers ... two operator-chosen IPv4
// addresses") into one multi-value name_server option, per spec.md §9's
// note that "multiple name_server entries coalesce into a single option
// whose value is the concatenation of all addresses".
func resolverOption(resolvers []netip.Addr) layers.DHCPOption {
	buf := make([]byte, 0, 4*len(resolvers))
	for _, r := range resolvers {
		if !r.Is4() {
			continue
		}

		a4 := r.As4()
		buf = append(buf, a4[:]...)
	}

	return layers.NewDHCPOption(layers.DHCPOptDNS, buf)
}

// fullOptionBlock builds the option list spec.md §4.6 requires for OFFER
// and REQUEST→ACK replies: hostname, domain, router, two resolvers,
// broadcast address, subnet mask, renewal time, lease time. The caller is
// responsible for appending message-type, server-id, and end afterward.
func fullOptionBlock(c *binding.Client, subnet *binding.Subnet, resolvers []netip.Addr) []layers.DHCPOption {
	opts := []layers.DHCPOption{
		layers.NewDHCPOption(layers.DHCPOptHostname, []byte(c.Hostname)),
		layers.NewDHCPOption(layers.DHCPOptDomainName, []byte(c.Domain())),
	}

	if subnet != nil && subnet.Gateway.IsValid() {
		opts = append(opts, ipv4Option(layers.DHCPOptRouter, net.IP(subnet.Gateway.AsSlice())))
	}

	opts = append(opts, resolverOption(resolvers))

	if subnet != nil && subnet.Prefix.IsValid() {
		opts = append(opts,
			ipv4Option(layers.DHCPOptBroadcastAddr, net.IP(subnet.Broadcast().AsSlice())),
			ipv4Option(layers.DHCPOptSubnetMask, subnet.Netmask()),
		)
	}

	opts = append(opts,
		durationOption(layers.DHCPOptT1, renewalTime),
		durationOption(layers.DHCPOptLeaseTime, leaseTime),
	)

	return opts
}

// informOptionBlock builds the smaller option list spec.md §4.6 requires
// for an INFORM→ACK reply: "hostname/domain/DNS only; no lease/netmask".
func informOptionBlock(c *binding.Client, resolvers []netip.Addr) []layers.DHCPOption {
	return []layers.DHCPOption{
		layers.NewDHCPOption(layers.DHCPOptHostname, []byte(c.Hostname)),
		layers.NewDHCPOption(layers.DHCPOptDomainName, []byte(c.Domain())),
		resolverOption(resolvers),
	}
}

// finish appends the options every reply bears regardless of branch:
// message-type, server-id, and the end marker, per spec.md §4.6.
func finish(opts []layers.DHCPOption, msgType layers.DHCPMsgType) []layers.DHCPOption {
	opts = append(opts, msgTypeOption(msgType))
	opts = append(opts, ipv4Option(layers.DHCPOptServerID, serverID))
	opts = append(opts, layers.NewDHCPOption(layers.DHCPOptEnd, nil))

	return opts
}

// requestedAddr extracts the requested_addr option, if present.
func requestedAddr(opts layers.DHCPOptions) (addr netip.Addr, ok bool) {
	for _, o := range opts {
		if o.Type == layers.DHCPOptRequestIP && len(o.Data) == 4 {
			a, aok := netip.AddrFromSlice(o.Data)
			if !aok {
				continue
			}

			return a.Unmap(), true
		}
	}

	return netip.Addr{}, false
}

// msgType extracts the required message-type option.
func msgType(opts layers.DHCPOptions) (t layers.DHCPMsgType, ok bool) {
	for _, o := range opts {
		if o.Type == layers.DHCPOptMessageType && len(o.Data) == 1 {
			return layers.DHCPMsgType(o.Data[0]), true
		}
	}

	return 0, false
}
