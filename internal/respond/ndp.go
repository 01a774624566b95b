package respond

import (
	"encoding/binary"
	"net"
	"net/netip"
)

// ICMPv6 type numbers used by the ND responders (RFC 4861).
const (
	icmpTypeRS = 133
	icmpTypeRA = 134
	icmpTypeNS = 135
	icmpTypeNA = 136
)

// Neighbor-Discovery option types (RFC 4861 §4.6).
const (
	ndOptSourceLinkLayer = 1
	ndOptTargetLinkLayer = 2
	ndOptPrefixInfo      = 3
)

// raRouterLifetime is the Router Advertisement lifetime of spec.md §4.7.
const raRouterLifetime = 14400

// raDefaultHopLimit is a conventional current-hop-limit value; spec.md
// does not constrain it.
const raDefaultHopLimit = 64

// prefixValidLifetime and prefixPreferredLifetime are the Prefix
// Information option lifetimes; spec.md only constrains router_lifetime,
// so these use the RFC 4861 illustrative defaults (30 days / 7 days).
const (
	prefixValidLifetime     = 30 * 24 * 3600
	prefixPreferredLifetime = 7 * 24 * 3600
)

// encodeOption builds one TLV-encoded ND option: a 1-byte type, a
// 1-byte length in units of 8 octets, and value, padded with zeroes to
// the next 8-octet boundary.
func encodeOption(optType byte, value []byte) []byte {
	total := len(value) + 2
	padded := ((total + 7) / 8) * 8

	buf := make([]byte, padded)
	buf[0] = optType
	buf[1] = byte(padded / 8)
	copy(buf[2:], value)

	return buf
}

// buildRouterAdvertisement builds the ICMPv6 Router Advertisement body
// (everything after the 4-byte ICMPv6 type/code/checksum header) per
// spec.md §4.7: router_lifetime = 14400s and exactly one Prefix
// Information option.
func buildRouterAdvertisement(prefix netip.Prefix) []byte {
	body := make([]byte, 12)
	body[0] = raDefaultHopLimit
	binary.BigEndian.PutUint16(body[2:4], raRouterLifetime)

	prefixBytes := prefix.Masked().Addr().As16()

	piValue := make([]byte, 30)
	piValue[0] = byte(prefix.Bits())
	piValue[1] = 0xc0 // On-link (L) and Autonomous (A) flags set.
	binary.BigEndian.PutUint32(piValue[2:6], prefixValidLifetime)
	binary.BigEndian.PutUint32(piValue[6:10], prefixPreferredLifetime)
	copy(piValue[14:30], prefixBytes[:])

	body = append(body, encodeOption(ndOptPrefixInfo, piValue)...)

	return body
}

// buildNeighborAdvertisement builds the ICMPv6 Neighbor Advertisement
// body for tgt, with flags R=1, O=0, S=1 per spec.md §4.8, carrying a
// target link-layer address option.
func buildNeighborAdvertisement(tgt netip.Addr, targetLLAddr net.HardwareAddr) []byte {
	const flagsRouterSolicited = 0xc0 // R=1 (0x80), S=1 (0x40), O=0.

	body := make([]byte, 20)
	body[0] = flagsRouterSolicited

	tb := tgt.As16()
	copy(body[4:20], tb[:])

	body = append(body, encodeOption(ndOptTargetLinkLayer, targetLLAddr)...)

	return body
}

// parseNeighborSolicitation extracts the target address and the source
// link-layer-address option (if present) from a Neighbor Solicitation
// body (everything after the 4-byte ICMPv6 header).
func parseNeighborSolicitation(body []byte) (tgt netip.Addr, lladdr net.HardwareAddr, ok bool) {
	if len(body) < 20 {
		return netip.Addr{}, nil, false
	}

	var tb [16]byte
	copy(tb[:], body[4:20])
	tgt = netip.AddrFrom16(tb)

	opts := body[20:]
	for len(opts) >= 8 {
		optLen := int(opts[1]) * 8
		if optLen == 0 || optLen > len(opts) {
			break
		}

		if opts[0] == ndOptSourceLinkLayer && optLen >= 8 {
			lladdr = net.HardwareAddr(append([]byte(nil), opts[2:8]...))
		}

		opts = opts[optLen:]
	}

	return tgt, lladdr, true
}
