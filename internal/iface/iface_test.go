package iface

import (
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/yanet-platform/ylink/internal/link"
	"github.com/yanet-platform/ylink/internal/neigh"
)

var (
	ourHw    = link.Addr{0x02, 0x00, 0x00, 0x00, 0x00, 0x0a}
	ourAddr  = netip.MustParseAddr("10.0.0.10")
	peerHw   = link.Addr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	peerAddr = netip.MustParseAddr("10.0.0.1")
	otherHw  = link.Addr{0x02, 0x00, 0x00, 0x00, 0x00, 0xee}
)

func newTestIface(t *testing.T) *Iface {
	t.Helper()
	return New(ourHw, ourAddr, WithStrictChecks())
}

// arpFrame round-trips a resolution message through the wire format, the
// way a real inbound frame would arrive.
func arpFrame(t *testing.T, src, dst link.Addr, pkt link.ARPPacket) link.Frame {
	t.Helper()

	payload, err := pkt.Encode()
	require.NoError(t, err)

	data, err := link.Frame{Src: src, Dst: dst, Type: layers.EthernetTypeARP, Payload: payload}.Encode()
	require.NoError(t, err)

	frame, err := link.ParseFrame(data)
	require.NoError(t, err)
	return frame
}

func ipv4Frame(t *testing.T, src, dst link.Addr, dgram link.Datagram) link.Frame {
	t.Helper()

	payload, err := dgram.Encode()
	require.NoError(t, err)

	data, err := link.Frame{Src: src, Dst: dst, Type: layers.EthernetTypeIPv4, Payload: payload}.Encode()
	require.NoError(t, err)

	frame, err := link.ParseFrame(data)
	require.NoError(t, err)
	return frame
}

func drain(ifi *Iface) []link.Frame {
	frames := []link.Frame{}
	for {
		frame, ok := ifi.PollFrame()
		if !ok {
			return frames
		}
		frames = append(frames, frame)
	}
}

func testDatagram(tag string) link.Datagram {
	return link.NewDatagram(ourAddr, netip.MustParseAddr("192.168.1.1"), 64, []byte(tag))
}

func TestSendUnresolvedIssuesExactlyOneRequest(t *testing.T) {
	ifi := newTestIface(t)

	ifi.Send(testDatagram("first"), peerAddr)

	frames := drain(ifi)
	require.Len(t, frames, 1)
	require.Equal(t, layers.EthernetTypeARP, frames[0].Type)
	require.Equal(t, link.Broadcast, frames[0].Dst)
	require.Equal(t, ourHw, frames[0].Src)

	pkt, err := link.ParseARP(frames[0].Payload)
	require.NoError(t, err)
	require.True(t, pkt.IsRequest())
	require.Equal(t, ourHw, pkt.SenderHw)
	require.Equal(t, ourAddr, pkt.SenderAddr)
	require.Equal(t, link.Addr{}, pkt.TargetHw)
	require.Equal(t, peerAddr, pkt.TargetAddr)

	// Further sends to the same unresolved next hop only append to the
	// queue; no extra request goes out.
	ifi.Send(testDatagram("second"), peerAddr)
	require.Empty(t, drain(ifi))
	require.NoError(t, ifi.Neighbours().Verify())
}

func TestReplyFlushesQueueInOrder(t *testing.T) {
	ifi := newTestIface(t)

	ifi.Send(testDatagram("first"), peerAddr)
	ifi.Send(testDatagram("second"), peerAddr)
	drain(ifi)

	reply := link.NewARPReply(peerHw, peerAddr, ourHw, ourAddr)
	_, delivered := ifi.Recv(arpFrame(t, peerHw, ourHw, reply))
	require.False(t, delivered)

	frames := drain(ifi)
	require.Len(t, frames, 2)
	for idx, tag := range []string{"first", "second"} {
		require.Equal(t, layers.EthernetTypeIPv4, frames[idx].Type)
		require.Equal(t, peerHw, frames[idx].Dst)

		dgram, err := link.ParseDatagram(frames[idx].Payload)
		require.NoError(t, err)
		require.Equal(t, []byte(tag), dgram.Payload)
	}

	hwaddr, ok := ifi.Neighbours().Reachable(peerAddr)
	require.True(t, ok)
	require.Equal(t, peerHw, hwaddr)

	// The next send is framed immediately.
	ifi.Send(testDatagram("third"), peerAddr)
	frames = drain(ifi)
	require.Len(t, frames, 1)
	require.Equal(t, layers.EthernetTypeIPv4, frames[0].Type)
}

func TestRecvForeignFrameHasNoEffect(t *testing.T) {
	ifi := newTestIface(t)

	reply := link.NewARPReply(peerHw, peerAddr, otherHw, netip.MustParseAddr("10.0.0.2"))
	_, delivered := ifi.Recv(arpFrame(t, peerHw, otherHw, reply))

	require.False(t, delivered)
	require.Zero(t, ifi.Neighbours().Len())
	require.Empty(t, drain(ifi))
	require.Equal(t, uint64(1), ifi.Stats().ForeignFrames)
}

func TestRecvRequestForOurAddressReplies(t *testing.T) {
	ifi := newTestIface(t)

	request := link.NewARPRequest(peerHw, peerAddr, ourAddr)
	_, delivered := ifi.Recv(arpFrame(t, peerHw, link.Broadcast, request))
	require.False(t, delivered)

	// The sender's mapping is learned from the request itself.
	hwaddr, ok := ifi.Neighbours().Reachable(peerAddr)
	require.True(t, ok)
	require.Equal(t, peerHw, hwaddr)

	frames := drain(ifi)
	require.Len(t, frames, 1)
	require.Equal(t, layers.EthernetTypeARP, frames[0].Type)
	require.Equal(t, peerHw, frames[0].Dst)

	pkt, err := link.ParseARP(frames[0].Payload)
	require.NoError(t, err)
	require.Equal(t, uint16(link.OpReply), pkt.Op)
	require.Equal(t, ourHw, pkt.SenderHw)
	require.Equal(t, ourAddr, pkt.SenderAddr)
	require.Equal(t, peerHw, pkt.TargetHw)
	require.Equal(t, peerAddr, pkt.TargetAddr)
}

func TestRecvRequestForOtherAddressLearnsButStaysQuiet(t *testing.T) {
	ifi := newTestIface(t)

	request := link.NewARPRequest(peerHw, peerAddr, netip.MustParseAddr("10.0.0.77"))
	ifi.Recv(arpFrame(t, peerHw, link.Broadcast, request))

	_, ok := ifi.Neighbours().Reachable(peerAddr)
	require.True(t, ok)
	require.Empty(t, drain(ifi))
}

func TestRecvIPv4DeliversDatagram(t *testing.T) {
	ifi := newTestIface(t)

	sent := link.NewDatagram(peerAddr, ourAddr, 64, []byte("payload"))
	dgram, delivered := ifi.Recv(ipv4Frame(t, peerHw, ourHw, sent))

	require.True(t, delivered)
	require.Equal(t, ourAddr, dgram.Dst())
	require.Equal(t, []byte("payload"), dgram.Payload)
}

func TestRecvMalformedPayloadDroppedSilently(t *testing.T) {
	ifi := newTestIface(t)

	_, delivered := ifi.Recv(link.Frame{
		Src:     peerHw,
		Dst:     ourHw,
		Type:    layers.EthernetTypeIPv4,
		Payload: []byte{0xde, 0xad},
	})

	require.False(t, delivered)
	require.Equal(t, uint64(1), ifi.Stats().MalformedFrames)
}

func TestTickExpiresPendingWithoutSending(t *testing.T) {
	ifi := newTestIface(t)

	ifi.Send(testDatagram("doomed"), peerAddr)
	drain(ifi)

	ifi.Tick(neigh.IncompleteLifetime)
	require.Empty(t, drain(ifi))
	require.Equal(t, uint64(1), ifi.Stats().ExpiredDatagrams)

	// A late reply finds nothing to flush; the mapping is still learned.
	reply := link.NewARPReply(peerHw, peerAddr, ourHw, ourAddr)
	ifi.Recv(arpFrame(t, peerHw, ourHw, reply))
	require.Empty(t, drain(ifi))

	_, ok := ifi.Neighbours().Reachable(peerAddr)
	require.True(t, ok)
}

func TestAsyncBuffersDatagramsForPull(t *testing.T) {
	async := NewAsync(newTestIface(t))

	for _, tag := range []string{"first", "second"} {
		sent := link.NewDatagram(peerAddr, ourAddr, 64, []byte(tag))
		async.Recv(ipv4Frame(t, peerHw, ourHw, sent))
	}

	for _, tag := range []string{"first", "second"} {
		dgram, ok := async.PollDatagram()
		require.True(t, ok)
		require.Equal(t, []byte(tag), dgram.Payload)
	}

	_, ok := async.PollDatagram()
	require.False(t, ok)

	// Resolution traffic never surfaces as a datagram.
	request := link.NewARPRequest(peerHw, peerAddr, ourAddr)
	async.Recv(arpFrame(t, peerHw, link.Broadcast, request))
	_, ok = async.PollDatagram()
	require.False(t, ok)
}
