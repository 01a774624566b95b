package respond

import (
	"context"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/grnet/tapdhcpd/internal/binding"
	"github.com/grnet/tapdhcpd/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSysfs creates a fake sysfs-net-root with one interface entry, for
// hostnet.Ifindex/HWAddr to read.
func newTestSysfs(t *testing.T, iface string, idx int, hwaddr string) string {
	t.Helper()

	root := t.TempDir()
	dir := filepath.Join(root, iface)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ifindex"), []byte(hwIndex(idx)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "address"), []byte(hwaddr+"\n"), 0o644))

	return root
}

func hwIndex(idx int) string {
	return (func() string {
		if idx == 0 {
			return "0\n"
		}
		s := ""
		for idx > 0 {
			s = string(rune('0'+idx%10)) + s
			idx /= 10
		}
		return s + "\n"
	})()
}

// buildDHCPRequest serializes a DHCP request (no Ethernet header, matching
// what NFQUEUE hands the responder) for use as test input.
func buildDHCPRequest(t *testing.T, clientMAC net.HardwareAddr, opts []layers.DHCPOption) []byte {
	t.Helper()

	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4zero,
		DstIP:    net.IPv4bcast,
	}

	udp := &layers.UDP{SrcPort: 68, DstPort: 67}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	dhcp := &layers.DHCPv4{
		Operation:    layers.DHCPOpRequest,
		HardwareType: layers.LinkTypeEthernet,
		HardwareLen:  6,
		Xid:          0x12345678,
		ClientHWAddr: clientMAC,
		Options:      opts,
	}

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, ip, udp, dhcp))

	return buf.Bytes()
}

func setupS1(t *testing.T) (*binding.Store, net.HardwareAddr, string) {
	t.Helper()

	mac, err := net.ParseMAC("52:54:00:12:34:56")
	require.NoError(t, err)

	store := binding.NewStore()
	store.SetIndex("tap0", 5)
	store.UpsertClient(&binding.Client{
		MAC:      mac,
		IPs:      []netip.Addr{netip.MustParseAddr("10.0.0.7")},
		Hostname: "vm7.example.org",
		Link:     "br0",
		Iface:    "tap0",
	})
	store.SetSubnet4("br0", &binding.Subnet{
		Prefix:  netip.MustParsePrefix("10.0.0.0/24"),
		Gateway: netip.MustParseAddr("10.0.0.1"),
	})

	sysfsRoot := newTestSysfs(t, "tap0", 5, "aa:bb:cc:dd:ee:ff")

	return store, mac, sysfsRoot
}

func TestDHCPv4_discoverToOffer(t *testing.T) {
	store, mac, sysfsRoot := setupS1(t)

	req := buildDHCPRequest(t, mac, []layers.DHCPOption{
		layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(layers.DHCPMsgTypeDiscover)}),
		layers.NewDHCPOption(layers.DHCPOptEnd, nil),
	})

	resolvers := []netip.Addr{netip.MustParseAddr("8.8.8.8"), netip.MustParseAddr("8.8.4.4")}
	r := &DHCPv4{Store: store, SysfsRoot: sysfsRoot, Resolvers: resolvers, Logger: slogutil.NewDiscardLogger()}

	verdict, reply := r.Handle(context.Background(), queue.Packet{ID: 1, Ifindex: 5, Payload: req})

	assert.Equal(t, queue.VerdictDrop, verdict)
	require.NotNil(t, reply)
	assert.Equal(t, "tap0", reply.Iface)
	assert.Equal(t, mac.String(), reply.Dst.String())

	p := gopacket.NewPacket(reply.Frame, layers.LayerTypeEthernet, gopacket.NoCopy)

	eth := p.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	assert.Equal(t, mac.String(), eth.DstMAC.String())

	ip := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	assert.Equal(t, "1.2.3.4", ip.SrcIP.String())
	assert.Equal(t, "10.0.0.7", ip.DstIP.String())

	udp := p.Layer(layers.LayerTypeUDP).(*layers.UDP)
	assert.EqualValues(t, 67, udp.SrcPort)
	assert.EqualValues(t, 68, udp.DstPort)

	dhcp := p.Layer(layers.LayerTypeDHCPv4).(*layers.DHCPv4)
	assert.Equal(t, "10.0.0.7", dhcp.YourClientIP.String())

	gotType, ok := msgType(dhcp.Options)
	require.True(t, ok)
	assert.Equal(t, layers.DHCPMsgTypeOffer, gotType)

	last := dhcp.Options[len(dhcp.Options)-1]
	assert.Equal(t, layers.DHCPOptEnd, last.Type)

	assertOption(t, dhcp.Options, layers.DHCPOptServerID, "1.2.3.4")
	assertOption(t, dhcp.Options, layers.DHCPOptRouter, "10.0.0.1")
	assertOption(t, dhcp.Options, layers.DHCPOptSubnetMask, "255.255.255.0")
	assertOption(t, dhcp.Options, layers.DHCPOptBroadcastAddr, "10.0.0.255")
}

func assertOption(t *testing.T, opts layers.DHCPOptions, typ layers.DHCPOpt, wantIP string) {
	t.Helper()

	for _, o := range opts {
		if o.Type == typ {
			assert.Equal(t, wantIP, net.IP(o.Data).String())

			return
		}
	}

	t.Fatalf("option %s not present", typ)
}

func TestDHCPv4_requestWrongAddrToNak(t *testing.T) {
	store, mac, sysfsRoot := setupS1(t)

	req := buildDHCPRequest(t, mac, []layers.DHCPOption{
		layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(layers.DHCPMsgTypeRequest)}),
		layers.NewDHCPOption(layers.DHCPOptRequestIP, net.ParseIP("10.0.0.8").To4()),
		layers.NewDHCPOption(layers.DHCPOptEnd, nil),
	})

	r := &DHCPv4{Store: store, SysfsRoot: sysfsRoot, Logger: slogutil.NewDiscardLogger()}

	verdict, reply := r.Handle(context.Background(), queue.Packet{ID: 1, Ifindex: 5, Payload: req})

	assert.Equal(t, queue.VerdictDrop, verdict)
	require.NotNil(t, reply)

	p := gopacket.NewPacket(reply.Frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	dhcp := p.Layer(layers.LayerTypeDHCPv4).(*layers.DHCPv4)

	gotType, ok := msgType(dhcp.Options)
	require.True(t, ok)
	assert.Equal(t, layers.DHCPMsgTypeNak, gotType)
	assert.True(t, dhcp.YourClientIP.IsUnspecified() || dhcp.YourClientIP == nil)

	for _, o := range dhcp.Options {
		assert.NotEqual(t, layers.DHCPOptRouter, o.Type)
		assert.NotEqual(t, layers.DHCPOptSubnetMask, o.Type)
	}
}

func TestDHCPv4_spoofedRequestDropped(t *testing.T) {
	store, mac, sysfsRoot := setupS1(t)
	store.SetIndex("tap1", 9)

	req := buildDHCPRequest(t, mac, []layers.DHCPOption{
		layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(layers.DHCPMsgTypeDiscover)}),
		layers.NewDHCPOption(layers.DHCPOptEnd, nil),
	})

	r := &DHCPv4{Store: store, SysfsRoot: sysfsRoot, Logger: slogutil.NewDiscardLogger()}

	// indev = ifindex of tap1, but the binding is pinned to tap0.
	verdict, reply := r.Handle(context.Background(), queue.Packet{ID: 1, Ifindex: 9, Payload: req})

	assert.Equal(t, queue.VerdictDrop, verdict)
	assert.Nil(t, reply)
}

func TestDHCPv4_evictedInterfaceYieldsNoReply(t *testing.T) {
	store, mac, sysfsRoot := setupS1(t)

	// Config eviction: delete file tap0 (spec.md S4).
	store.RemoveSubnet6("tap0")
	store.RemoveClientsByIface("tap0")
	store.RemoveIndex("tap0")

	req := buildDHCPRequest(t, mac, []layers.DHCPOption{
		layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(layers.DHCPMsgTypeDiscover)}),
		layers.NewDHCPOption(layers.DHCPOptEnd, nil),
	})

	r := &DHCPv4{Store: store, SysfsRoot: sysfsRoot, Logger: slogutil.NewDiscardLogger()}

	verdict, reply := r.Handle(context.Background(), queue.Packet{ID: 1, Ifindex: 5, Payload: req})

	assert.Equal(t, queue.VerdictDrop, verdict)
	assert.Nil(t, reply)
}
