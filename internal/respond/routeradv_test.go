package respond

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/grnet/tapdhcpd/internal/binding"
	"github.com/grnet/tapdhcpd/internal/eui64"
	"github.com/grnet/tapdhcpd/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildRouterSolicitation serializes an IPv6+ICMPv6 Router Solicitation with
// no Ethernet header, matching what NFQUEUE hands the responder.
func buildRouterSolicitation(t *testing.T, srcIP netip.Addr, srcMAC net.HardwareAddr) []byte {
	t.Helper()

	ip := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   255,
		SrcIP:      net.IP(srcIP.AsSlice()),
		DstIP:      net.ParseIP("ff02::2"),
	}

	icmp := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(icmpTypeRS, 0)}
	require.NoError(t, icmp.SetNetworkLayerForChecksum(ip))

	body := make([]byte, 4)
	body = append(body, encodeOption(ndOptSourceLinkLayer, srcMAC)...)

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		ip, icmp, gopacket.Payload(body)))

	return buf.Bytes()
}

func TestRouterAdvertisement_solicitationAnswered(t *testing.T) {
	store := binding.NewStore()
	store.SetIndex("tap0", 5)
	store.SetSubnet6("tap0", &binding.Subnet{Prefix: netip.MustParsePrefix("fd00:1::/64")})

	sysfsRoot := newTestSysfs(t, "tap0", 5, "aa:bb:cc:dd:ee:ff")

	solicitorMAC, err := net.ParseMAC("52:54:00:12:34:56")
	require.NoError(t, err)
	solicitor := netip.MustParseAddr("fe80::5054:ff:fe12:3456")

	req := buildRouterSolicitation(t, solicitor, solicitorMAC)

	r := &RouterAdvertisement{Store: store, SysfsRoot: sysfsRoot, Logger: slogutil.NewDiscardLogger()}

	verdict, reply := r.Handle(context.Background(), queue.Packet{ID: 1, Ifindex: 5, Payload: req})

	assert.Equal(t, queue.VerdictDrop, verdict)
	require.NotNil(t, reply)
	assert.Equal(t, "tap0", reply.Iface)
	assert.Equal(t, solicitorMAC.String(), reply.Dst.String())

	p := gopacket.NewPacket(reply.Frame, layers.LayerTypeEthernet, gopacket.NoCopy)

	hwaddr, _ := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	wantSrc := eui64.LinkLocal(hwaddr)

	ip := p.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	assert.Equal(t, wantSrc.String(), ip.SrcIP.String())
	assert.Equal(t, solicitor.String(), ip.DstIP.String())

	icmp := p.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6)
	assert.EqualValues(t, icmpTypeRA, icmp.TypeCode>>8)

	body := icmp.LayerPayload()
	require.GreaterOrEqual(t, len(body), 12)
	lifetime := uint16(body[2])<<8 | uint16(body[3])
	assert.EqualValues(t, raRouterLifetime, lifetime)
	assert.Equal(t, byte(ndOptPrefixInfo), body[12])
}

func TestRouterAdvertisement_unknownInterfaceDropped(t *testing.T) {
	store := binding.NewStore()
	sysfsRoot := newTestSysfs(t, "tap0", 5, "aa:bb:cc:dd:ee:ff")

	solicitorMAC, err := net.ParseMAC("52:54:00:12:34:56")
	require.NoError(t, err)

	req := buildRouterSolicitation(t, netip.MustParseAddr("fe80::1"), solicitorMAC)

	r := &RouterAdvertisement{Store: store, SysfsRoot: sysfsRoot, Logger: slogutil.NewDiscardLogger()}

	verdict, reply := r.Handle(context.Background(), queue.Packet{ID: 1, Ifindex: 99, Payload: req})

	assert.Equal(t, queue.VerdictDrop, verdict)
	assert.Nil(t, reply)
}
