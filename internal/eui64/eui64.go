// Package eui64 derives IPv6 interface identifiers and addresses from MAC
// addresses, per spec.md §4.9.
package eui64

import (
	"net"
	"net/netip"
)

// LinkLocalPrefix is fe80::/64, the prefix used to derive per-interface
// IPv6 link-local addresses.
var LinkLocalPrefix = netip.MustParsePrefix("fe80::/64")

// Make derives the 8-octet EUI-64 interface identifier for mac: insert
// 0xff 0xfe between the 3rd and 4th octet, then flip the universal/local
// bit (XOR 0x02) on the first octet.
func Make(mac net.HardwareAddr) (id [8]byte) {
	copy(id[0:3], mac[0:3])
	id[3] = 0xff
	id[4] = 0xfe
	copy(id[5:8], mac[3:6])
	id[0] ^= 0x02

	return id
}

// WithPrefix concatenates the EUI-64 identifier of mac onto the first 64
// bits of prefix, yielding a full /128 address under prefix.
func WithPrefix(prefix netip.Prefix, mac net.HardwareAddr) netip.Addr {
	id := Make(mac)

	base := prefix.Masked().Addr().As16()

	var out [16]byte
	copy(out[0:8], base[0:8])
	copy(out[8:16], id[:])

	return netip.AddrFrom16(out)
}

// LinkLocal derives the fe80::/64 link-local address of mac.
func LinkLocal(mac net.HardwareAddr) netip.Addr {
	return WithPrefix(LinkLocalPrefix, mac)
}
