package iface

import (
	"net/netip"
	"time"

	"github.com/gopacket/gopacket/layers"
	"go.uber.org/zap"

	"github.com/yanet-platform/ylink/internal/link"
	"github.com/yanet-platform/ylink/internal/neigh"
)

// Option is a function that configures the interface.
type Option func(*options)

// WithLog configures the interface with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithStrictChecks propagates strict consistency checking to the resolution
// cache.
func WithStrictChecks() Option {
	return func(o *options) {
		o.Strict = true
	}
}

type options struct {
	Log    *zap.SugaredLogger
	Strict bool
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// Stats counts the interface's silently discarded traffic.
type Stats struct {
	// ForeignFrames is the number of inbound frames addressed to neither
	// this interface nor broadcast.
	ForeignFrames uint64
	// MalformedFrames is the number of inbound payloads that failed to
	// decode.
	MalformedFrames uint64
	// ExpiredDatagrams is the number of queued datagrams dropped because
	// their next hop never resolved.
	ExpiredDatagrams uint64
}

// Iface bridges the IPv4 layer to an Ethernet-like link.
//
// Outgoing datagrams are turned into unicast frames once the next hop's
// hardware address is known, resolving it on demand and parking datagrams
// behind an in-flight resolution meanwhile. Incoming frames either yield a
// datagram for delivery upward or feed the resolution cache.
//
// The interface is single-threaded and poll-driven: built frames accumulate
// in an outbound queue drained via PollFrame, and time advances only through
// Tick. An Iface exclusively owns its cache and queues.
type Iface struct {
	hwaddr     link.Addr
	addr       netip.Addr
	neighbours *neigh.Table
	tx         []link.Frame
	stats      Stats
	log        *zap.SugaredLogger
}

// New creates an interface with the given hardware and IPv4 addresses.
func New(hwaddr link.Addr, addr netip.Addr, opts ...Option) *Iface {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	log := o.Log.With(zap.Stringer("iface_addr", addr))

	tableOpts := []neigh.Option{neigh.WithLog(log)}
	if o.Strict {
		tableOpts = append(tableOpts, neigh.WithStrictChecks())
	}

	return &Iface{
		hwaddr:     hwaddr,
		addr:       addr,
		neighbours: neigh.NewTable(tableOpts...),
		log:        log,
	}
}

// HWAddr returns the interface's hardware address.
func (m *Iface) HWAddr() link.Addr {
	return m.hwaddr
}

// Addr returns the interface's IPv4 address.
func (m *Iface) Addr() netip.Addr {
	return m.addr
}

// Neighbours returns the interface's resolution cache.
func (m *Iface) Neighbours() *neigh.Table {
	return m.neighbours
}

// Stats returns the drop counters.
func (m *Iface) Stats() Stats {
	return m.stats
}

// Send addresses the datagram to the adjacent node at nextHop.
//
// With a resolved next hop the datagram is framed and queued immediately.
// Otherwise it is parked behind the (possibly just-issued) resolution
// request; the send is considered complete either way.
func (m *Iface) Send(dgram link.Datagram, nextHop netip.Addr) {
	if hwaddr, ok := m.neighbours.Reachable(nextHop); ok {
		m.pushDatagram(hwaddr, dgram)
		return
	}

	if created := m.neighbours.Enqueue(nextHop, dgram); created {
		m.log.Debugw("resolving next hop", zap.Stringer("nexthop_addr", nextHop))
		m.pushARP(link.Broadcast, link.NewARPRequest(m.hwaddr, m.addr, nextHop))
	}
}

// Recv handles an inbound frame.
//
// Frames addressed to neither this interface nor broadcast are discarded
// with no effect. An IPv4 payload that decodes is returned for delivery
// upward; a resolution message updates the cache, flushes any datagrams it
// unblocks and answers requests for this interface's address. Payloads that
// fail to decode are dropped silently.
func (m *Iface) Recv(frame link.Frame) (link.Datagram, bool) {
	if frame.Dst != m.hwaddr && frame.Dst != link.Broadcast {
		m.stats.ForeignFrames++
		return link.Datagram{}, false
	}

	switch frame.Type {
	case layers.EthernetTypeIPv4:
		dgram, err := link.ParseDatagram(frame.Payload)
		if err != nil {
			m.stats.MalformedFrames++
			m.log.Debugw("dropping malformed datagram", zap.Error(err))
			return link.Datagram{}, false
		}
		return dgram, true
	case layers.EthernetTypeARP:
		pkt, err := link.ParseARP(frame.Payload)
		if err != nil {
			m.stats.MalformedFrames++
			m.log.Debugw("dropping malformed resolution message", zap.Error(err))
			return link.Datagram{}, false
		}
		m.handleARP(pkt)
	}

	return link.Datagram{}, false
}

func (m *Iface) handleARP(pkt link.ARPPacket) {
	// Learn the sender's mapping from any observed message, then flush
	// whatever it unblocked in original submission order.
	for _, dgram := range m.neighbours.Learn(pkt.SenderAddr, pkt.SenderHw) {
		m.pushDatagram(pkt.SenderHw, dgram)
	}

	if pkt.IsRequest() && pkt.TargetAddr == m.addr {
		m.pushARP(pkt.SenderHw, link.NewARPReply(m.hwaddr, m.addr, pkt.SenderHw, pkt.SenderAddr))
	}
}

// Tick advances the resolution cache by the time elapsed since the previous
// call.
func (m *Iface) Tick(elapsed time.Duration) {
	m.stats.ExpiredDatagrams += uint64(m.neighbours.Tick(elapsed))
}

// PollFrame removes and returns the oldest queued outbound frame.
func (m *Iface) PollFrame() (link.Frame, bool) {
	if len(m.tx) == 0 {
		return link.Frame{}, false
	}

	frame := m.tx[0]
	m.tx = m.tx[1:]
	return frame, true
}

func (m *Iface) pushDatagram(dst link.Addr, dgram link.Datagram) {
	payload, err := dgram.Encode()
	if err != nil {
		m.log.Errorw("failed to serialize datagram", zap.Error(err))
		return
	}

	m.tx = append(m.tx, link.Frame{
		Src:     m.hwaddr,
		Dst:     dst,
		Type:    layers.EthernetTypeIPv4,
		Payload: payload,
	})
}

func (m *Iface) pushARP(dst link.Addr, pkt link.ARPPacket) {
	payload, err := pkt.Encode()
	if err != nil {
		m.log.Errorw("failed to serialize resolution message", zap.Error(err))
		return
	}

	m.tx = append(m.tx, link.Frame{
		Src:     m.hwaddr,
		Dst:     dst,
		Type:    layers.EthernetTypeARP,
		Payload: payload,
	})
}
