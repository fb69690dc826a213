// Package routing moves item quantities into and out of a network. It never fails: whatever
// could not be moved is reported back as a remainder or a short extraction.
package routing

import (
	"chestnet.ai/internal/sim/kernel/model"
	"chestnet.ai/internal/sim/network/probe"
)

// Members is the registry surface routing needs.
type Members interface {
	SortedView(now uint64) []model.Vec3i
	Handle(pos model.Vec3i) (probe.Handle, bool)
	Config(pos model.Vec3i) (*probe.Config, bool)
	OnContentsChanged(pos model.Vec3i)
}

// Index is the aggregator surface routing needs.
type Index interface {
	Locations(item string) []model.Vec3i
	MarkStale()
}

// Limits gives the per-slot stack size of an item kind.
type Limits interface {
	MaxStack(item string) int
}

type InsertionResult struct {
	Remainder  model.Stack
	Placed     int
	Overflowed bool

	// First container that received any of the stack.
	HasDestination  bool
	Destination     model.Vec3i
	DestinationName string
}

type Engine struct {
	members Members
	index   Index
	limits  Limits
}

func New(members Members, index Index, limits Limits) *Engine {
	return &Engine{members: members, index: index, limits: limits}
}

// Insert places stack into the network. Filtered containers are tried first, then General and
// Overflow ones, both in one sorted view taken at the start of the call.
func (e *Engine) Insert(stack model.Stack, now uint64) InsertionResult {
	res := InsertionResult{Remainder: stack}
	if stack.Empty() {
		return res
	}
	view := e.members.SortedView(now)
	left := stack.Count
	filteredTried := false

	for phase := 1; phase <= 2 && left > 0; phase++ {
		for _, pos := range view {
			if left == 0 {
				break
			}
			cfg, ok := e.members.Config(pos)
			if !ok {
				continue
			}
			if filtered := cfg.Mode().Filtered(); filtered != (phase == 1) {
				continue
			}
			h, ok := e.members.Handle(pos)
			if !ok {
				continue
			}
			if !cfg.Accepts(stack.Item, h) {
				continue
			}
			if phase == 1 {
				filteredTried = true
			}
			n := e.fill(h, stack.Item, left)
			if n <= 0 {
				continue
			}
			left -= n
			e.members.OnContentsChanged(pos)
			if !res.HasDestination {
				res.HasDestination = true
				res.Destination = pos
				res.DestinationName = cfg.Name()
			}
			// Overflow only counts when a filter had a chance and could not take it all.
			if phase == 2 && filteredTried && cfg.Mode() == probe.Overflow {
				res.Overflowed = true
			}
		}
	}

	res.Placed = stack.Count - left
	res.Remainder = stack.WithCount(left)
	if res.Placed > 0 {
		e.index.MarkStale()
	}
	return res
}

// fill puts up to amount of item into h: first topping up existing stacks of item, then
// using empty slots. It returns the quantity placed.
func (e *Engine) fill(h probe.Handle, item string, amount int) int {
	limit := e.slotMax(h, item)
	if limit <= 0 || amount <= 0 {
		return 0
	}
	left := amount
	n := h.SlotCount()
	for i := 0; i < n && left > 0; i++ {
		s := h.Slot(i)
		if s.Item != item || s.Count <= 0 || s.Count >= limit {
			continue
		}
		add := min(limit-s.Count, left)
		h.SetSlot(i, model.Stack{Item: item, Count: s.Count + add})
		left -= add
	}
	for i := 0; i < n && left > 0; i++ {
		if !h.Slot(i).Empty() {
			continue
		}
		add := min(limit, left)
		h.SetSlot(i, model.Stack{Item: item, Count: add})
		left -= add
	}
	return amount - left
}

func (e *Engine) slotMax(h probe.Handle, item string) int {
	limit := h.SlotLimit()
	if e.limits != nil {
		if m := e.limits.MaxStack(item); m > 0 && (limit <= 0 || m < limit) {
			limit = m
		}
	}
	return limit
}

// Extract removes up to amount of item, visiting only the containers the index lists for it.
// Listings that turn out stale are skipped.
func (e *Engine) Extract(item string, amount int, now uint64) model.Stack {
	if item == "" || amount <= 0 {
		return model.Stack{}
	}
	left := amount
	for _, pos := range e.index.Locations(item) {
		if left == 0 {
			break
		}
		h, ok := e.members.Handle(pos)
		if !ok {
			continue
		}
		took := 0
		n := h.SlotCount()
		for i := 0; i < n && left > 0; i++ {
			s := h.Slot(i)
			if s.Item != item || s.Count <= 0 {
				continue
			}
			take := min(s.Count, left)
			h.SetSlot(i, s.WithCount(s.Count-take))
			left -= take
			took += take
		}
		if took > 0 {
			e.members.OnContentsChanged(pos)
		}
	}
	if left < amount {
		e.index.MarkStale()
	}
	return model.Stack{Item: item}.WithCount(amount - left)
}
