// Package respond implements the three packet-synthesis state machines of
// spec.md §4.6–§4.8: the DHCPv4 Responder, the IPv6 RA Responder, and the
// IPv6 NA Responder.
//
// Decode/encode is grounded on the corpus's internal/dhcpsvc (gopacket
// layers.DHCPv4 and the layers.NewDHCPOption option-building idiom) and
// raw-frame construction on internal/dhcpd/conn_linux.go's buildEtherPkt
// (gopacket.SerializeLayers over Ethernet→IPv4→UDP→payload).
package respond

import (
	"context"
	"log/slog"
	"net"
	"net/netip"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/mdlayher/ethernet"
	"github.com/grnet/tapdhcpd/internal/binding"
	"github.com/grnet/tapdhcpd/internal/hostnet"
	"github.com/grnet/tapdhcpd/internal/queue"
)

// DHCPv4 implements the DHCPv4 Responder of spec.md §4.6.
type DHCPv4 struct {
	Store     *binding.Store
	SysfsRoot string
	Resolvers []netip.Addr
	Logger    *slog.Logger
}

// Handle implements queue.Responder. Per spec.md step 2, the verdict is
// always drop: a synthesized reply must never race the original packet to
// the guest.
func (d *DHCPv4) Handle(ctx context.Context, pkt queue.Packet) (queue.Verdict, *queue.Reply) {
	iface, ok := d.Store.IfaceByIndex(pkt.Ifindex)
	if !ok {
		return queue.VerdictDrop, nil
	}

	ipv4, udp, dhcp, ok := decodeDHCPv4(pkt.Payload)
	if !ok {
		d.Logger.WarnContext(ctx, "captured packet has no dhcp layer", "iface", iface)

		return queue.VerdictDrop, nil
	}

	mac := dhcp.ClientHWAddr.String()

	client, ok := d.Store.ClientByMAC(mac)
	if !ok {
		d.Logger.WarnContext(ctx, "invalid client", "mac", mac, "iface", iface)

		return queue.VerdictDrop, nil
	}

	if client.Iface != iface {
		d.Logger.WarnContext(ctx, "spoofed request", "mac", mac, "iface", iface, "pinned_iface", client.Iface)

		return queue.VerdictDrop, nil
	}

	if len(dhcp.Options) == 0 {
		d.Logger.WarnContext(ctx, "captured packet carries no dhcp options", "mac", mac, "iface", iface)

		return queue.VerdictDrop, nil
	}

	reqType, ok := msgType(dhcp.Options)
	if !ok {
		d.Logger.WarnContext(ctx, "captured packet has no message-type option", "mac", mac, "iface", iface)

		return queue.VerdictDrop, nil
	}

	d.Logger.DebugContext(ctx, "dhcp request received", "type", reqType, "mac", mac, "iface", iface)

	requested, haveRequested := requestedAddr(dhcp.Options)
	if !haveRequested {
		requested = client.IP()
	}

	subnet, _ := d.Store.Subnet4(client.Link)

	var respType layers.DHCPMsgType
	yiaddr := net.IPv4zero
	var opts []layers.DHCPOption

	switch reqType {
	case layers.DHCPMsgTypeDiscover:
		respType = layers.DHCPMsgTypeOffer
		yiaddr = net.IP(client.IP().AsSlice())
		opts = fullOptionBlock(client, subnet, d.Resolvers)

	case layers.DHCPMsgTypeRequest:
		if requested == client.IP() {
			respType = layers.DHCPMsgTypeAck
			yiaddr = net.IP(client.IP().AsSlice())
			opts = fullOptionBlock(client, subnet, d.Resolvers)
		} else {
			respType = layers.DHCPMsgTypeNak
		}

	case layers.DHCPMsgTypeInform:
		respType = layers.DHCPMsgTypeAck
		opts = informOptionBlock(client, d.Resolvers)

	case layers.DHCPMsgTypeRelease:
		d.Logger.InfoContext(ctx, "release received, no reply", "mac", mac, "iface", iface)

		return queue.VerdictDrop, nil

	default:
		d.Logger.WarnContext(ctx, "UNKNOWN dhcp message type", "type", reqType, "mac", mac, "iface", iface)

		return queue.VerdictDrop, nil
	}

	opts = finish(opts, respType)

	hwaddr, ok := hostnet.HWAddr(d.SysfsRoot, iface)
	if !ok {
		d.Logger.WarnContext(ctx, "reading interface hardware address", "iface", iface)

		return queue.VerdictDrop, nil
	}

	frame, err := buildDHCPReply(ipv4, udp, dhcp, yiaddr, client.IP(), opts, hwaddr, client.MAC)
	if err != nil {
		d.Logger.ErrorContext(ctx, "building dhcp reply", slogutil.KeyError, err)

		return queue.VerdictDrop, nil
	}

	d.Logger.InfoContext(ctx, "dhcp reply sent", "type", respType, "mac", mac, "ip", client.IP(), "iface", iface)

	return queue.VerdictDrop, &queue.Reply{
		Iface:     iface,
		EtherType: ethernet.EtherTypeIPv4,
		Dst:       client.MAC,
		Frame:     frame,
	}
}

// decodeDHCPv4 decodes a captured IPv4 packet (no link-layer header, as
// delivered by NFQUEUE) into its IPv4, UDP, and DHCPv4 layers.
func decodeDHCPv4(payload []byte) (ipv4 *layers.IPv4, udp *layers.UDP, dhcp *layers.DHCPv4, ok bool) {
	p := gopacket.NewPacket(payload, layers.LayerTypeIPv4, gopacket.NoCopy)

	ipv4Layer := p.Layer(layers.LayerTypeIPv4)
	udpLayer := p.Layer(layers.LayerTypeUDP)
	dhcpLayer := p.Layer(layers.LayerTypeDHCPv4)
	if ipv4Layer == nil || udpLayer == nil || dhcpLayer == nil {
		return nil, nil, nil, false
	}

	return ipv4Layer.(*layers.IPv4), udpLayer.(*layers.UDP), dhcpLayer.(*layers.DHCPv4), true
}

// buildDHCPReply serializes the full Ethernet→IPv4→UDP→DHCPv4 reply frame
// per spec.md §4.6's "Frame construction for the reply".
func buildDHCPReply(
	reqIP *layers.IPv4,
	reqUDP *layers.UDP,
	req *layers.DHCPv4,
	yiaddr net.IP,
	clientIP netip.Addr,
	opts []layers.DHCPOption,
	srcHW, dstHW net.HardwareAddr,
) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcHW,
		DstMAC:       dstHW,
		EthernetType: layers.EthernetTypeIPv4,
	}

	// Every reply, NAK and INFORM→ACK included, is unicast to the client's
	// bound address rather than to the all-zeros source of the originating
	// broadcast. The request's declared source is used only when clientIP
	// is not an IPv4 address.
	dstIP := reqIP.SrcIP
	if clientIP.Is4() {
		dstIP = net.IP(clientIP.AsSlice())
	}

	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    serverID,
		DstIP:    dstIP,
	}

	udp := &layers.UDP{
		SrcPort: reqUDP.DstPort,
		DstPort: reqUDP.SrcPort,
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	dhcp := &layers.DHCPv4{
		Operation:    layers.DHCPOpReply,
		HardwareType: req.HardwareType,
		HardwareLen:  req.HardwareLen,
		Xid:          req.Xid,
		ClientIP:     req.ClientIP,
		YourClientIP: yiaddr,
		ClientHWAddr: req.ClientHWAddr,
		Options:      opts,
	}

	buf := gopacket.NewSerializeBuffer()
	opts2 := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts2, eth, ip, udp, dhcp); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
