package rib

import (
	"fmt"
	"net/netip"

	"go.uber.org/zap"
)

// NextHop is the forwarding decision associated with a route prefix.
type NextHop struct {
	// Addr is the IP address of the adjacent node to forward through. An
	// invalid (zero) address means the destination network is directly
	// attached: frames go to the datagram's own destination.
	Addr netip.Addr
	// Iface is the index of the egress interface.
	Iface int
}

// Direct reports whether the route's network is directly attached.
func (m NextHop) Direct() bool {
	return !m.Addr.IsValid()
}

// Option is a function that configures the table.
type Option func(*options)

// WithLog configures the table with a logger.
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

// Table is a static IPv4 forwarding table with longest-prefix-match lookup.
//
// It is an array of maps indexed by prefix length, so a lookup probes at
// most 33 maps from the most specific length down instead of scanning every
// route. The table is populated once before forwarding begins; entries are
// never removed or mutated.
//
// Inserting the same masked prefix twice keeps the first entry: route
// precedence follows insertion order.
type Table struct {
	prefixes [33]map[netip.Prefix]NextHop
	size     int
	log      *zap.SugaredLogger
}

// NewTable creates an empty forwarding table.
func NewTable(opts ...Option) *Table {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Table{
		log: o.Log,
	}
}

// Len returns the number of routes in the table.
func (m *Table) Len() int {
	return m.size
}

// Insert appends a route for the given prefix.
//
// The prefix is normalized to its masked form; insignificant bits are
// ignored. A duplicate of an already-inserted prefix is dropped, preserving
// the first entry.
func (m *Table) Insert(prefix netip.Prefix, nexthop NextHop) error {
	if !prefix.IsValid() || !prefix.Addr().Is4() {
		return fmt.Errorf("unsupported route prefix %q: must be IPv4", prefix)
	}

	prefix = prefix.Masked()
	bits := prefix.Bits()

	if m.prefixes[bits] == nil {
		m.prefixes[bits] = map[netip.Prefix]NextHop{}
	}
	if _, ok := m.prefixes[bits][prefix]; ok {
		m.log.Debugw("keeping earlier route for duplicate prefix", zap.Stringer("prefix", prefix))
		return nil
	}

	m.prefixes[bits][prefix] = nexthop
	m.size++
	return nil
}

// Lookup returns the next hop of the most specific route containing addr.
//
// A /0 route matches unconditionally and is probed last.
func (m *Table) Lookup(addr netip.Addr) (NextHop, bool) {
	addr = addr.Unmap()
	if !addr.Is4() {
		return NextHop{}, false
	}

	for bits := 32; bits >= 0; bits-- {
		if len(m.prefixes[bits]) == 0 {
			continue
		}

		prefix, err := addr.Prefix(bits)
		if err != nil {
			continue
		}
		if nexthop, ok := m.prefixes[bits][prefix]; ok {
			return nexthop, true
		}
	}

	return NextHop{}, false
}

// Dump creates a flat map of all routes in the table.
func (m *Table) Dump() map[netip.Prefix]NextHop {
	out := make(map[netip.Prefix]NextHop, m.size)
	for bits := len(m.prefixes) - 1; bits >= 0; bits-- {
		for prefix, nexthop := range m.prefixes[bits] {
			out[prefix] = nexthop
		}
	}

	return out
}
