package respond

import (
	"context"
	"log/slog"
	"net"
	"net/netip"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/mdlayher/ethernet"
	"github.com/grnet/tapdhcpd/internal/binding"
	"github.com/grnet/tapdhcpd/internal/eui64"
	"github.com/grnet/tapdhcpd/internal/hostnet"
	"github.com/grnet/tapdhcpd/internal/queue"
)

// NeighborAdvertisement implements the IPv6 NA Responder of spec.md §4.8.
type NeighborAdvertisement struct {
	Store     *binding.Store
	SysfsRoot string
	Logger    *slog.Logger
}

// Handle implements queue.Responder.
func (n *NeighborAdvertisement) Handle(ctx context.Context, pkt queue.Packet) (queue.Verdict, *queue.Reply) {
	iface, ok := n.Store.IfaceByIndex(pkt.Ifindex)
	if !ok {
		return queue.VerdictAccept, nil
	}

	ipv6, icmp, ok := decodeICMPv6(pkt.Payload, icmpTypeNS)
	if !ok {
		return queue.VerdictAccept, nil
	}

	tgt, srcLL, ok := parseNeighborSolicitation(icmp.LayerPayload())
	if !ok {
		n.Logger.WarnContext(ctx, "malformed neighbor solicitation", "iface", iface)

		return queue.VerdictAccept, nil
	}

	hwaddr, ok := hostnet.HWAddr(n.SysfsRoot, iface)
	if !ok {
		n.Logger.WarnContext(ctx, "reading interface hardware address", "iface", iface)

		return queue.VerdictAccept, nil
	}

	ifll := eui64.LinkLocal(hwaddr)

	subnet, _ := n.Store.Subnet6(iface)

	if !inPrefix(subnet, tgt) && tgt != ifll {
		n.Logger.DebugContext(ctx, "ns for non-routable target", "target", tgt, "iface", iface)

		return queue.VerdictAccept, nil
	}

	dstHW := etherDestination(ipv6.SrcIP, srcLL)
	dstIP := net.IP(ipv6.SrcIP)

	body := buildNeighborAdvertisement(tgt, hwaddr)

	frame, err := buildICMPv6Reply(hwaddr, dstHW, net.IP(tgt.AsSlice()), dstIP, icmpTypeNA, body)
	if err != nil {
		n.Logger.ErrorContext(ctx, "building neighbor advertisement", slogutil.KeyError, err)

		return queue.VerdictDrop, nil
	}

	n.Logger.InfoContext(ctx, "neighbor advertisement sent", "target", tgt, "iface", iface)

	return queue.VerdictDrop, &queue.Reply{
		Iface:     iface,
		EtherType: ethernet.EtherTypeIPv6,
		Dst:       dstHW,
		Frame:     frame,
	}
}

// inPrefix reports whether addr falls within subnet's connected prefix.
func inPrefix(subnet *binding.Subnet, addr netip.Addr) bool {
	return subnet != nil && subnet.Prefix.IsValid() && subnet.Prefix.Contains(addr)
}
