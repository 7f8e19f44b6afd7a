package link

import (
	"net"
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
)

func TestDecHopLimitMatchesFullRecompute(t *testing.T) {
	cases := []struct {
		src string
		dst string
		ttl uint8
	}{
		{"10.0.0.1", "10.0.0.2", 64},
		{"192.168.255.254", "172.16.0.1", 255},
		{"0.0.0.1", "255.255.255.255", 2},
	}

	for _, c := range cases {
		dgram := NewDatagram(netip.MustParseAddr(c.src), netip.MustParseAddr(c.dst), c.ttl, []byte("payload"))

		data, err := dgram.Encode()
		require.NoError(t, err)
		parsed, err := ParseDatagram(data)
		require.NoError(t, err)

		parsed.DecHopLimit()
		require.Equal(t, c.ttl-1, parsed.HopLimit())

		// Encode recomputes the checksum from scratch; the incremental
		// patch must agree with it.
		reencoded, err := parsed.Encode()
		require.NoError(t, err)
		reference, err := ParseDatagram(reencoded)
		require.NoError(t, err)
		require.Equal(t, reference.Header.Checksum, parsed.Header.Checksum, "ttl %d", c.ttl)
	}
}

func TestFramePadsToMinimumSize(t *testing.T) {
	frame := Frame{
		Src:     Addr{0x02, 0, 0, 0, 0, 1},
		Dst:     Broadcast,
		Type:    layers.EthernetTypeARP,
		Payload: []byte{0x01},
	}

	data, err := frame.Encode()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 60)

	parsed, err := ParseFrame(data)
	require.NoError(t, err)
	require.Equal(t, frame.Src, parsed.Src)
	require.Equal(t, frame.Dst, parsed.Dst)
	require.Equal(t, frame.Type, parsed.Type)
}

func TestParseFrameRejectsTruncated(t *testing.T) {
	_, err := ParseFrame([]byte{0xff, 0xff})
	require.Error(t, err)
}

func TestParseARPRejectsForeignLinkTypes(t *testing.T) {
	pkt := layers.ARP{
		AddrType:          layers.LinkType(32), // not Ethernet
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         OpRequest,
		SourceHwAddress:   net.HardwareAddr{2, 0, 0, 0, 0, 1},
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{10, 0, 0, 2},
	}

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, pkt.SerializeTo(buf, gopacket.SerializeOptions{FixLengths: true}))

	_, err := ParseARP(buf.Bytes())
	require.Error(t, err)
}

func TestARPRequestLeavesTargetUnknown(t *testing.T) {
	senderHw := Addr{0x02, 0, 0, 0, 0, 1}
	request := NewARPRequest(senderHw, netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"))

	data, err := request.Encode()
	require.NoError(t, err)
	parsed, err := ParseARP(data)
	require.NoError(t, err)

	require.True(t, parsed.IsRequest())
	require.Equal(t, Addr{}, parsed.TargetHw)
	require.Equal(t, senderHw, parsed.SenderHw)
	require.Equal(t, netip.MustParseAddr("10.0.0.2"), parsed.TargetAddr)
}
