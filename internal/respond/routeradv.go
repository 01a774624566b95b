package respond

import (
	"context"
	"log/slog"
	"net"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/mdlayher/ethernet"
	"github.com/grnet/tapdhcpd/internal/binding"
	"github.com/grnet/tapdhcpd/internal/eui64"
	"github.com/grnet/tapdhcpd/internal/hostnet"
	"github.com/grnet/tapdhcpd/internal/queue"
)

// RouterAdvertisement implements the IPv6 RA Responder of spec.md §4.7.
type RouterAdvertisement struct {
	Store     *binding.Store
	SysfsRoot string
	Logger    *slog.Logger
}

// Handle implements queue.Responder. Per spec.md §4.7, the verdict is
// always drop.
func (r *RouterAdvertisement) Handle(ctx context.Context, pkt queue.Packet) (queue.Verdict, *queue.Reply) {
	iface, ok := r.Store.IfaceByIndex(pkt.Ifindex)
	if !ok {
		return queue.VerdictDrop, nil
	}

	ipv6, icmp, ok := decodeICMPv6(pkt.Payload, icmpTypeRS)
	if !ok {
		r.Logger.WarnContext(ctx, "captured packet has no router solicitation", "iface", iface)

		return queue.VerdictDrop, nil
	}

	hwaddr, ok := hostnet.HWAddr(r.SysfsRoot, iface)
	if !ok {
		r.Logger.WarnContext(ctx, "reading interface hardware address", "iface", iface)

		return queue.VerdictDrop, nil
	}

	subnet, ok := r.Store.Subnet6(iface)
	if !ok || !subnet.Prefix.IsValid() {
		r.Logger.WarnContext(ctx, "no ipv6 subnet known for interface", "iface", iface)

		return queue.VerdictDrop, nil
	}

	srcIP := eui64.LinkLocal(hwaddr)
	body := buildRouterAdvertisement(subnet.Prefix)

	_, srcLL, _ := parseRouterSolicitation(icmp.LayerPayload())
	dstHW := etherDestination(ipv6.SrcIP, srcLL)

	frame, err := buildICMPv6Reply(hwaddr, dstHW, net.IP(srcIP.AsSlice()), ipv6.SrcIP, icmpTypeRA, body)
	if err != nil {
		r.Logger.ErrorContext(ctx, "building router advertisement", slogutil.KeyError, err)

		return queue.VerdictDrop, nil
	}

	r.Logger.InfoContext(ctx, "router advertisement sent", "iface", iface, "prefix", subnet.Prefix)

	return queue.VerdictDrop, &queue.Reply{
		Iface:     iface,
		EtherType: ethernet.EtherTypeIPv6,
		Dst:       dstHW,
		Frame:     frame,
	}
}

// parseRouterSolicitation extracts the source link-layer-address option,
// if present, from a Router Solicitation body (reserved(4) + options).
func parseRouterSolicitation(body []byte) (reserved []byte, lladdr net.HardwareAddr, ok bool) {
	if len(body) < 4 {
		return nil, nil, false
	}

	opts := body[4:]
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

	return body[:4], lladdr, true
}

// decodeICMPv6 decodes a captured IPv6 packet and returns its IPv6 and
// ICMPv6 layers if the ICMPv6 message's type matches want.
func decodeICMPv6(payload []byte, want byte) (ipv6 *layers.IPv6, icmp *layers.ICMPv6, ok bool) {
	p := gopacket.NewPacket(payload, layers.LayerTypeIPv6, gopacket.NoCopy)

	ipv6Layer := p.Layer(layers.LayerTypeIPv6)
	icmpLayer := p.Layer(layers.LayerTypeICMPv6)
	if ipv6Layer == nil || icmpLayer == nil {
		return nil, nil, false
	}

	icmp = icmpLayer.(*layers.ICMPv6)
	if byte(icmp.TypeCode>>8) != want {
		return nil, nil, false
	}

	return ipv6Layer.(*layers.IPv6), icmp, true
}

// etherDestination picks the Ethernet destination for a synthesized ND
// reply: the requester's advertised link-layer address when known,
// otherwise the IPv6-multicast-derived MAC (33:33:xx:xx:xx:xx) for a
// multicast destination, otherwise the broadcast address as a last resort.
func etherDestination(dstIP net.IP, lladdr net.HardwareAddr) net.HardwareAddr {
	if len(lladdr) == 6 {
		return lladdr
	}

	if dstIP.IsMulticast() {
		mac := make(net.HardwareAddr, 6)
		mac[0], mac[1] = 0x33, 0x33
		copy(mac[2:], dstIP.To16()[12:16])

		return mac
	}

	return net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}

// buildICMPv6Reply serializes an Ethernet→IPv6→ICMPv6 frame carrying body
// as the ICMPv6 message payload.
func buildICMPv6Reply(
	srcHW, dstHW net.HardwareAddr,
	srcIP, dstIP net.IP,
	icmpType byte,
	body []byte,
) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcHW,
		DstMAC:       dstHW,
		EthernetType: layers.EthernetTypeIPv6,
	}

	ip := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   255,
		SrcIP:      srcIP,
		DstIP:      dstIP,
	}

	icmp := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(icmpType, 0),
	}
	if err := icmp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, icmp, gopacket.Payload(body)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
