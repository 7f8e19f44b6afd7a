package link

import (
	"fmt"
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// Addr is an EUI-48 hardware address.
type Addr [6]byte

// Broadcast is the all-ones hardware address.
var Broadcast = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// AddrFromSlice constructs an Addr from a byte slice.
//
// The slice must be exactly six bytes long.
func AddrFromSlice(b []byte) (Addr, bool) {
	if len(b) != 6 {
		return Addr{}, false
	}

	return Addr(b), true
}

// String returns the canonical colon-separated representation.
func (m Addr) String() string {
	return net.HardwareAddr(m[:]).String()
}

// Frame is an Ethernet frame.
//
// The Type field discriminates the payload interpretation: an IPv4 datagram
// or an address-resolution message.
type Frame struct {
	// Src is the hardware address of the sending interface.
	Src Addr
	// Dst is the hardware address the frame is addressed to.
	Dst Addr
	// Type selects the payload interpretation.
	Type layers.EthernetType
	// Payload carries the encapsulated packet bytes.
	Payload []byte
}

// ParseFrame decodes a raw Ethernet frame.
func ParseFrame(data []byte) (Frame, error) {
	eth := layers.Ethernet{}
	if err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}

	src, ok := AddrFromSlice(eth.SrcMAC)
	if !ok {
		return Frame{}, fmt.Errorf("unsupported source hardware address %q: must be EUI-48", eth.SrcMAC)
	}
	dst, ok := AddrFromSlice(eth.DstMAC)
	if !ok {
		return Frame{}, fmt.Errorf("unsupported destination hardware address %q: must be EUI-48", eth.DstMAC)
	}

	return Frame{
		Src:     src,
		Dst:     dst,
		Type:    eth.EthernetType,
		Payload: eth.Payload,
	}, nil
}

// Encode serializes the frame into wire format.
//
// The frame is padded up to the minimum Ethernet frame size.
func (m Frame) Encode() ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr(m.Src[:]),
		DstMAC:       net.HardwareAddr(m.Dst[:]),
		EthernetType: m.Type,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, gopacket.Payload(m.Payload)); err != nil {
		return nil, fmt.Errorf("failed to serialize frame: %w", err)
	}

	return buf.Bytes(), nil
}
