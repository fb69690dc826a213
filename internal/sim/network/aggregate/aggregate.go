// Package aggregate maintains the network-wide contents view: totals per item kind, the
// containers holding each kind, and the pending deltas for client sync.
package aggregate

import (
	"sort"

	"chestnet.ai/internal/protocol"
	"chestnet.ai/internal/sim/kernel/model"
	"chestnet.ai/internal/sim/network/probe"
)

// Source is the registry side of a scan.
type Source interface {
	SortedView(now uint64) []model.Vec3i
	Handle(pos model.Vec3i) (probe.Handle, bool)
}

// Snapshot is an immutable view of the network totals.
type Snapshot struct {
	items map[string]int
	tick  uint64
}

func (s *Snapshot) Count(item string) int { return s.items[item] }
func (s *Snapshot) Len() int              { return len(s.items) }
func (s *Snapshot) Tick() uint64          { return s.tick }

// Map returns a private copy of the totals.
func (s *Snapshot) Map() map[string]int {
	out := make(map[string]int, len(s.items))
	for k, v := range s.items {
		out[k] = v
	}
	return out
}

// Items returns the totals ordered by item id.
func (s *Snapshot) Items() []protocol.ItemStack {
	out := make([]protocol.ItemStack, 0, len(s.items))
	for item, n := range s.items {
		out = append(out, protocol.ItemStack{Item: item, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out
}

type Aggregator struct {
	totals    map[string]int
	locations map[string][]model.Vec3i

	deltas map[string]int

	snap  *Snapshot
	dirty bool

	stale       bool
	refreshed   bool
	lastRefresh uint64
}

func New() *Aggregator {
	return &Aggregator{
		totals:    map[string]int{},
		locations: map[string][]model.Vec3i{},
		deltas:    map[string]int{},
		dirty:     true,
	}
}

// Refresh rescans every resolvable container of src and swaps in fresh totals and locations.
// Kinds whose total changed are recorded as deltas holding the new total (0 for vanished kinds).
func (a *Aggregator) Refresh(src Source, now uint64) {
	totals := map[string]int{}
	locations := map[string][]model.Vec3i{}
	for _, pos := range src.SortedView(now) {
		h, ok := src.Handle(pos)
		if !ok {
			continue
		}
		seen := map[string]bool{}
		n := h.SlotCount()
		for i := 0; i < n; i++ {
			s := h.Slot(i)
			if s.Empty() {
				continue
			}
			totals[s.Item] += s.Count
			if !seen[s.Item] {
				seen[s.Item] = true
				locations[s.Item] = append(locations[s.Item], pos)
			}
		}
	}

	for item, n := range totals {
		if a.totals[item] != n {
			a.deltas[item] = n
		}
	}
	for item := range a.totals {
		if _, ok := totals[item]; !ok {
			a.deltas[item] = 0
		}
	}

	a.totals = totals
	a.locations = locations
	a.dirty = true
	a.stale = false
	a.refreshed = true
	a.lastRefresh = now
}

// Snapshot returns the current totals. The same value is returned until the next Refresh.
func (a *Aggregator) Snapshot() *Snapshot {
	if a.dirty || a.snap == nil {
		items := make(map[string]int, len(a.totals))
		for k, v := range a.totals {
			items[k] = v
		}
		a.snap = &Snapshot{items: items, tick: a.lastRefresh}
		a.dirty = false
	}
	return a.snap
}

// ConsumeDeltas returns and clears the pending deltas. A value <= 0 means the kind must be
// removed from the remote view.
func (a *Aggregator) ConsumeDeltas() map[string]int {
	out := a.deltas
	a.deltas = map[string]int{}
	return out
}

func (a *Aggregator) PendingDeltas() int { return len(a.deltas) }

// Locations returns the containers known to hold item at the last refresh, in sorted-view order.
func (a *Aggregator) Locations(item string) []model.Vec3i {
	return append([]model.Vec3i(nil), a.locations[item]...)
}

func (a *Aggregator) Total(item string) int { return a.totals[item] }

// MarkStale schedules a refresh regardless of cadence.
func (a *Aggregator) MarkStale() { a.stale = true }

// Stale reports whether contents changed since the last refresh (or none happened yet).
func (a *Aggregator) Stale() bool { return a.stale || !a.refreshed }

// Due reports whether a refresh should run at now given the cadence every.
func (a *Aggregator) Due(now, every uint64) bool {
	if a.stale || !a.refreshed {
		return true
	}
	return now < a.lastRefresh || now-a.lastRefresh >= every
}

func (a *Aggregator) LastRefresh() uint64 { return a.lastRefresh }
