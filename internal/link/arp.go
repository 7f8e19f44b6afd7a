package link

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// Address-resolution opcodes.
const (
	// OpRequest is a broadcast query for the hardware address that matches
	// the target protocol address.
	OpRequest = layers.ARPRequest
	// OpReply is the targeted answer to a request.
	OpReply = layers.ARPReply
)

// ARPPacket is an address-resolution message for IPv4 over Ethernet.
type ARPPacket struct {
	// Op is the operation code, OpRequest or OpReply.
	Op uint16
	// SenderHw is the hardware address of the message originator.
	SenderHw Addr
	// SenderAddr is the protocol address of the message originator.
	SenderAddr netip.Addr
	// TargetHw is the hardware address being conveyed, zero in requests.
	TargetHw Addr
	// TargetAddr is the protocol address being queried or answered for.
	TargetAddr netip.Addr
}

// NewARPRequest builds a resolution query for the given protocol address.
//
// The target hardware address is left zeroed; the enclosing frame must be
// addressed to Broadcast.
func NewARPRequest(senderHw Addr, senderAddr, targetAddr netip.Addr) ARPPacket {
	return ARPPacket{
		Op:         OpRequest,
		SenderHw:   senderHw,
		SenderAddr: senderAddr,
		TargetAddr: targetAddr,
	}
}

// NewARPReply builds an answer to a resolution query, addressed back to the
// original requester.
func NewARPReply(senderHw Addr, senderAddr netip.Addr, targetHw Addr, targetAddr netip.Addr) ARPPacket {
	return ARPPacket{
		Op:         OpReply,
		SenderHw:   senderHw,
		SenderAddr: senderAddr,
		TargetHw:   targetHw,
		TargetAddr: targetAddr,
	}
}

// IsRequest reports whether the message is a resolution query.
func (m ARPPacket) IsRequest() bool {
	return m.Op == OpRequest
}

// ParseARP decodes an address-resolution message.
//
// Only IPv4-over-Ethernet messages are accepted.
func ParseARP(data []byte) (ARPPacket, error) {
	pkt := layers.ARP{}
	if err := pkt.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return ARPPacket{}, fmt.Errorf("failed to decode resolution message: %w", err)
	}

	if pkt.AddrType != layers.LinkTypeEthernet || pkt.Protocol != layers.EthernetTypeIPv4 {
		return ARPPacket{}, fmt.Errorf("unsupported resolution message: hw type %d, proto type %d", pkt.AddrType, pkt.Protocol)
	}

	senderHw, ok := AddrFromSlice(pkt.SourceHwAddress)
	if !ok {
		return ARPPacket{}, fmt.Errorf("unsupported sender hardware address %q: must be EUI-48", pkt.SourceHwAddress)
	}
	targetHw, ok := AddrFromSlice(pkt.DstHwAddress)
	if !ok {
		return ARPPacket{}, fmt.Errorf("unsupported target hardware address %q: must be EUI-48", pkt.DstHwAddress)
	}

	senderAddr, ok := netip.AddrFromSlice(pkt.SourceProtAddress)
	if !ok || !senderAddr.Is4() {
		return ARPPacket{}, fmt.Errorf("failed to parse sender protocol address: %q", pkt.SourceProtAddress)
	}
	targetAddr, ok := netip.AddrFromSlice(pkt.DstProtAddress)
	if !ok || !targetAddr.Is4() {
		return ARPPacket{}, fmt.Errorf("failed to parse target protocol address: %q", pkt.DstProtAddress)
	}

	return ARPPacket{
		Op:         pkt.Operation,
		SenderHw:   senderHw,
		SenderAddr: senderAddr,
		TargetHw:   targetHw,
		TargetAddr: targetAddr,
	}, nil
}

// Encode serializes the message into wire format.
func (m ARPPacket) Encode() ([]byte, error) {
	senderAddr := m.SenderAddr.As4()
	targetAddr := m.TargetAddr.As4()

	pkt := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         m.Op,
		SourceHwAddress:   net.HardwareAddr(m.SenderHw[:]),
		SourceProtAddress: senderAddr[:],
		DstHwAddress:      net.HardwareAddr(m.TargetHw[:]),
		DstProtAddress:    targetAddr[:],
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := pkt.SerializeTo(buf, opts); err != nil {
		return nil, fmt.Errorf("failed to serialize resolution message: %w", err)
	}

	return buf.Bytes(), nil
}
