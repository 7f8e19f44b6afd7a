package router

import (
	"fmt"
	"net/netip"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"

	"github.com/yanet-platform/ylink/internal/iface"
	"github.com/yanet-platform/ylink/internal/link"
	"github.com/yanet-platform/ylink/internal/rib"
)

// Option is a function that configures the router.
type Option func(*options)

// WithLog configures the router with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// Stats counts the router's forwarding decisions.
type Stats struct {
	// Forwarded is the number of datagrams handed to an egress interface.
	Forwarded uint64
	// ForwardedBytes is the total size of forwarded datagrams.
	ForwardedBytes uint64
	// DropsNoRoute is the number of datagrams with no matching route.
	DropsNoRoute uint64
	// DropsHopLimit is the number of datagrams that would not survive the
	// next hop.
	DropsHopLimit uint64
}

// Router forwards IPv4 datagrams between link interfaces using a static
// longest-prefix-match table.
//
// The router owns its interfaces and the table, but does not drive time:
// the caller schedules each interface's Tick on its own.
type Router struct {
	ifaces []*iface.Async
	table  *rib.Table
	stats  Stats
	log    *zap.SugaredLogger
}

// New creates a router with no interfaces and an empty table.
func New(opts ...Option) *Router {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Router{
		table: rib.NewTable(rib.WithLog(o.Log)),
		log:   o.Log,
	}
}

// AddIface appends an interface and returns its index.
func (m *Router) AddIface(ifi *iface.Async) int {
	m.ifaces = append(m.ifaces, ifi)
	return len(m.ifaces) - 1
}

// NumIfaces returns the number of attached interfaces.
func (m *Router) NumIfaces() int {
	return len(m.ifaces)
}

// Iface returns the interface at the given index.
func (m *Router) Iface(idx int) *iface.Async {
	return m.ifaces[idx]
}

// Stats returns the forwarding counters.
func (m *Router) Stats() Stats {
	return m.stats
}

// AddRoute appends a forwarding rule: datagrams whose destination is inside
// prefix leave through the interface at ifaceIdx, addressed to nexthop.
//
// An invalid (zero) nexthop declares the network directly attached, in
// which case frames are addressed to each datagram's own destination.
func (m *Router) AddRoute(prefix netip.Prefix, nexthop netip.Addr, ifaceIdx int) error {
	if ifaceIdx < 0 || ifaceIdx >= len(m.ifaces) {
		return fmt.Errorf("no interface with index %d", ifaceIdx)
	}
	if nexthop.IsValid() && !nexthop.Unmap().Is4() {
		return fmt.Errorf("unsupported next hop %q: must be IPv4", nexthop)
	}

	if err := m.table.Insert(prefix, rib.NextHop{Addr: nexthop, Iface: ifaceIdx}); err != nil {
		return err
	}

	m.log.Infow("added route",
		zap.Stringer("prefix", prefix),
		zap.Stringer("nexthop_addr", nexthop),
		zap.Int("iface", ifaceIdx),
	)

	return nil
}

// Routes creates a flat dump of the forwarding table.
func (m *Router) Routes() map[netip.Prefix]rib.NextHop {
	return m.table.Dump()
}

// RouteOnce drains every interface's buffered inbound datagrams, in index
// order, and forwards each through the table.
//
// One interface is drained completely before the next is visited, so the
// processing order is index-major rather than arrival-time ordered across
// interfaces.
func (m *Router) RouteOnce() {
	for _, ifi := range m.ifaces {
		for {
			dgram, ok := ifi.PollDatagram()
			if !ok {
				break
			}

			m.forward(dgram)
		}
	}
}

// forward applies the table to a single datagram. Unroutable and
// hop-limit-exhausted datagrams are expected steady-state traffic and are
// dropped without any error signal.
func (m *Router) forward(dgram link.Datagram) {
	dst := dgram.Dst()

	nexthop, ok := m.table.Lookup(dst)
	if !ok {
		m.stats.DropsNoRoute++
		m.log.Debugw("no route", zap.Stringer("dst_addr", dst))
		return
	}

	// A datagram with one hop left would not survive the next one.
	if dgram.HopLimit() <= 1 {
		m.stats.DropsHopLimit++
		m.log.Debugw("hop limit exhausted", zap.Stringer("dst_addr", dst))
		return
	}

	dgram.DecHopLimit()

	next := nexthop.Addr
	if nexthop.Direct() {
		next = dst
	}

	m.ifaces[nexthop.Iface].Send(dgram, next)
	m.stats.Forwarded++
	m.stats.ForwardedBytes += uint64(dgram.Header.Length)
}

// LogStats reports the forwarding counters.
func (m *Router) LogStats() {
	m.log.Infow("forwarding stats",
		zap.Uint64("forwarded", m.stats.Forwarded),
		zap.String("forwarded_bytes", datasize.ByteSize(m.stats.ForwardedBytes).HumanReadable()),
		zap.Uint64("drops_no_route", m.stats.DropsNoRoute),
		zap.Uint64("drops_hop_limit", m.stats.DropsHopLimit),
	)
}
