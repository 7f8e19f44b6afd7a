package link

import (
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// Datagram is an IPv4 datagram: a header plus an opaque payload.
type Datagram struct {
	// Header is the IPv4 header.
	Header layers.IPv4
	// Payload carries the transport-layer bytes.
	Payload []byte
}

// NewDatagram builds a datagram with the given addressing and hop limit.
//
// Header length fields and the checksum are filled in on Encode.
func NewDatagram(src, dst netip.Addr, hopLimit uint8, payload []byte) Datagram {
	srcAddr := src.As4()
	dstAddr := dst.As4()

	return Datagram{
		Header: layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      hopLimit,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    srcAddr[:],
			DstIP:    dstAddr[:],
		},
		Payload: payload,
	}
}

// ParseDatagram decodes an IPv4 datagram.
func ParseDatagram(data []byte) (Datagram, error) {
	ip4 := layers.IPv4{}
	if err := ip4.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return Datagram{}, fmt.Errorf("failed to decode datagram: %w", err)
	}

	return Datagram{
		Header:  ip4,
		Payload: ip4.Payload,
	}, nil
}

// Encode serializes the datagram into wire format, fixing up the length
// fields and recomputing the header checksum.
func (m Datagram) Encode() ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buf, opts, &m.Header, gopacket.Payload(m.Payload)); err != nil {
		return nil, fmt.Errorf("failed to serialize datagram: %w", err)
	}

	return buf.Bytes(), nil
}

// Src returns the source address.
func (m Datagram) Src() netip.Addr {
	addr, _ := netip.AddrFromSlice(m.Header.SrcIP.To4())
	return addr
}

// Dst returns the destination address.
func (m Datagram) Dst() netip.Addr {
	addr, _ := netip.AddrFromSlice(m.Header.DstIP.To4())
	return addr
}

// HopLimit returns the remaining hop count.
func (m Datagram) HopLimit() uint8 {
	return m.Header.TTL
}

// DecHopLimit decrements the hop limit by one and patches the header
// checksum incrementally (RFC 1141).
//
// The caller must ensure the hop limit is positive.
func (m *Datagram) DecHopLimit() {
	m.Header.TTL--

	// A TTL decrement lowers the first header word by 0x0100, so the
	// one's-complement checksum grows by the same amount, with an
	// end-around carry.
	sum := uint32(m.Header.Checksum) + 0x0100
	m.Header.Checksum = uint16(sum + sum>>16)
}
