package neigh

import (
	"fmt"
	"net/netip"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/ylink/internal/link"
)

// Option is a function that configures the table.
type Option func(*options)

// WithLog configures the table with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithStrictChecks makes consistency violations panic instead of degrading
// to a logged error. Test configurations enable this.
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

// Table is a resolution cache keyed by next-hop IP address.
//
// Each next hop has at most one entry, either incomplete with a queue of
// blocked datagrams, or reachable with a resolved hardware address. Time
// advances only through explicit Tick calls.
type Table struct {
	entries map[netip.Addr]*Entry
	strict  bool
	log     *zap.SugaredLogger
}

// NewTable creates an empty resolution cache.
func NewTable(opts ...Option) *Table {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Table{
		entries: map[netip.Addr]*Entry{},
		strict:  o.Strict,
		log:     o.Log,
	}
}

// Len returns the number of cached entries.
func (m *Table) Len() int {
	return len(m.entries)
}

// Reachable returns the resolved hardware address for the next hop, if any.
func (m *Table) Reachable(nextHop netip.Addr) (link.Addr, bool) {
	entry, ok := m.entries[nextHop]
	if !ok || entry.State != StateReachable {
		return link.Addr{}, false
	}

	return entry.LinkAddr, true
}

// Enqueue queues a datagram behind an unresolved next hop.
//
// If no entry exists yet, an incomplete one is created with the datagram as
// the first element of its queue and Enqueue returns true: the caller must
// broadcast a resolution request. Appending to an existing queue neither
// refreshes the entry's lifetime nor warrants another request.
//
// Must not be called for a next hop that is already reachable.
func (m *Table) Enqueue(nextHop netip.Addr, dgram link.Datagram) bool {
	entry, ok := m.entries[nextHop]
	if !ok {
		m.entries[nextHop] = &Entry{
			NextHop:  nextHop,
			State:    StateIncomplete,
			Lifetime: IncompleteLifetime,
			Pending:  []link.Datagram{dgram},
		}
		return true
	}

	if err := m.verify(entry); err != nil {
		m.fail(err)
		return false
	}
	if entry.State != StateIncomplete {
		m.fail(fmt.Errorf("enqueue for reachable next hop %q", nextHop))
		return false
	}

	entry.Pending = append(entry.Pending, dgram)
	return false
}

// Learn records an observed hardware-address mapping for the given sender.
//
// An incomplete entry is promoted to reachable and its queued datagrams are
// returned, in submission order, for the caller to transmit. A reachable
// entry only has its lifetime refreshed. An unknown sender is inserted as a
// fresh reachable entry: mappings are learned from any observed resolution
// traffic, not only from replies addressed to this side.
func (m *Table) Learn(nextHop netip.Addr, hwaddr link.Addr) []link.Datagram {
	entry, ok := m.entries[nextHop]
	if !ok {
		m.entries[nextHop] = &Entry{
			NextHop:  nextHop,
			LinkAddr: hwaddr,
			State:    StateReachable,
			Lifetime: ReachableLifetime,
		}
		return nil
	}

	if err := m.verify(entry); err != nil {
		m.fail(err)
		entry.Pending = nil
	}

	switch entry.State {
	case StateReachable:
		entry.Lifetime = ReachableLifetime
		return nil
	case StateIncomplete:
		unblocked := entry.Pending
		entry.LinkAddr = hwaddr
		entry.State = StateReachable
		entry.Lifetime = ReachableLifetime
		entry.Pending = nil
		return unblocked
	default:
		m.fail(fmt.Errorf("entry %q is in unknown state %d", nextHop, entry.State))
		return nil
	}
}

// Tick advances time by the given amount, evicting entries whose lifetime
// ran out.
//
// Datagrams queued behind an expired incomplete entry are discarded, never
// retried; their count is returned for accounting.
func (m *Table) Tick(elapsed time.Duration) int {
	dropped := 0
	for nextHop, entry := range m.entries {
		entry.Lifetime -= elapsed
		if entry.Lifetime > 0 {
			continue
		}

		if err := m.verify(entry); err != nil {
			m.fail(err)
		}
		if entry.State == StateIncomplete {
			m.log.Debugw("resolution expired, dropping queued datagrams",
				zap.Stringer("nexthop_addr", nextHop),
				zap.Int("datagrams", len(entry.Pending)),
			)
			dropped += len(entry.Pending)
		}

		delete(m.entries, nextHop)
	}

	return dropped
}

// Entries returns a snapshot of the cache.
func (m *Table) Entries() map[netip.Addr]Entry {
	entries := make(map[netip.Addr]Entry, len(m.entries))
	for nextHop, entry := range m.entries {
		snapshot := *entry
		snapshot.Pending = slices.Clone(entry.Pending)
		entries[nextHop] = snapshot
	}

	return entries
}

// Verify checks that every incomplete entry carries a non-empty queue and
// every reachable entry carries none.
func (m *Table) Verify() error {
	for _, entry := range m.entries {
		if err := m.verify(entry); err != nil {
			return err
		}
	}

	return nil
}

func (m *Table) verify(entry *Entry) error {
	switch {
	case entry.State == StateIncomplete && len(entry.Pending) == 0:
		return fmt.Errorf("incomplete entry %q has no queued datagrams", entry.NextHop)
	case entry.State == StateReachable && len(entry.Pending) != 0:
		return fmt.Errorf("reachable entry %q has %d queued datagrams", entry.NextHop, len(entry.Pending))
	default:
		return nil
	}
}

// fail reports an internal inconsistency: such a state signals a defect in
// this package, not a runtime condition callers should handle. In strict
// mode it panics; otherwise the operation degrades to a logged no-op.
func (m *Table) fail(err error) {
	if m.strict {
		panic(fmt.Sprintf("resolution cache inconsistency: %v", err))
	}

	m.log.Errorw("resolution cache inconsistency", zap.Error(err))
}
