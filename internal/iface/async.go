package iface

import (
	"net/netip"
	"time"

	"github.com/yanet-platform/ylink/internal/link"
)

// Async decouples frame arrival from datagram consumption: instead of
// returning a decoded datagram to the caller of Recv, it buffers it for
// later pull by the owner.
//
// It is a plain adapter around an Iface, not a subtype of it.
type Async struct {
	iface *Iface
	rx    []link.Datagram
}

// NewAsync wraps the given interface.
func NewAsync(ifi *Iface) *Async {
	return &Async{iface: ifi}
}

// Iface returns the wrapped interface.
func (m *Async) Iface() *Iface {
	return m.iface
}

// Send addresses the datagram to the adjacent node at nextHop.
func (m *Async) Send(dgram link.Datagram, nextHop netip.Addr) {
	m.iface.Send(dgram, nextHop)
}

// Recv handles an inbound frame, buffering a decoded datagram, if any, for
// later retrieval via PollDatagram.
func (m *Async) Recv(frame link.Frame) {
	if dgram, ok := m.iface.Recv(frame); ok {
		m.rx = append(m.rx, dgram)
	}
}

// PollDatagram removes and returns the oldest buffered inbound datagram.
func (m *Async) PollDatagram() (link.Datagram, bool) {
	if len(m.rx) == 0 {
		return link.Datagram{}, false
	}

	dgram := m.rx[0]
	m.rx = m.rx[1:]
	return dgram, true
}

// PollFrame removes and returns the oldest queued outbound frame.
func (m *Async) PollFrame() (link.Frame, bool) {
	return m.iface.PollFrame()
}

// Tick advances the wrapped interface's resolution cache.
func (m *Async) Tick(elapsed time.Duration) {
	m.iface.Tick(elapsed)
}
