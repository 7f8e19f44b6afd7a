package neigh

import (
	"net/netip"
	"time"

	"github.com/yanet-platform/ylink/internal/link"
)

// Cache-entry lifetimes, fixed by the resolution protocol contract.
const (
	// IncompleteLifetime bounds how long an unanswered resolution request
	// keeps its entry, and the datagrams queued behind it, alive.
	IncompleteLifetime = 5 * time.Second
	// ReachableLifetime is the lifetime of a learned mapping, also used as
	// the refresh value on every subsequent observation.
	ReachableLifetime = 30 * time.Second
)

// State is the resolution state of a cache entry.
type State uint8

const (
	// StateIncomplete marks an entry whose hardware address is still being
	// resolved; datagrams addressed to it wait in the entry's queue.
	StateIncomplete State = iota
	// StateReachable marks a fully resolved entry.
	StateReachable
)

// String returns string representation of this state.
func (m State) String() string {
	switch m {
	case StateIncomplete:
		return "INCOMPLETE"
	case StateReachable:
		return "REACHABLE"
	default:
		return "UNKNOWN"
	}
}

// Entry is a single resolution-cache record.
//
// The pending-datagram queue lives inside the entry itself: an incomplete
// entry carries its queue and a reachable entry carries the resolved
// hardware address, so the two can never desynchronize.
type Entry struct {
	// NextHop is the IP address of the next hop.
	NextHop netip.Addr
	// LinkAddr is the hardware address of the next hop, meaningful only in
	// StateReachable.
	LinkAddr link.Addr
	// State is the resolution state of the entry.
	State State
	// Lifetime is the remaining time before the entry is evicted.
	Lifetime time.Duration
	// Pending holds datagrams awaiting resolution in submission order,
	// non-empty exactly while the entry is incomplete.
	Pending []link.Datagram
}
