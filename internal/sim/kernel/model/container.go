package model

import (
	"sort"

	"chestnet.ai/internal/protocol"
	"chestnet.ai/internal/sim/logic/ids"
)

// Container is the slot-based inventory of a physical chest block.
// It is included in snapshots; the network only ever sees it through probe.Handle.
type Container struct {
	Type  string
	Pos   Vec3i
	Slots []Stack
	Limit int // per-slot maximum, before the item's own stack size applies

	Gone bool // set when the block is broken; cached handles must drop it
}

func NewContainer(typ string, pos Vec3i, slots, limit int) *Container {
	if slots < 0 {
		slots = 0
	}
	return &Container{
		Type:  typ,
		Pos:   pos,
		Slots: make([]Stack, slots),
		Limit: limit,
	}
}

// ID is the TYPE@x,y,z identifier clients see for this container.
func (c *Container) ID() string { return ids.Block(c.Type, c.Pos.X, c.Pos.Y, c.Pos.Z) }

func (c *Container) Position() Vec3i { return c.Pos }
func (c *Container) Removed() bool   { return c == nil || c.Gone }
func (c *Container) SlotCount() int  { return len(c.Slots) }
func (c *Container) SlotLimit() int  { return c.Limit }

func (c *Container) Slot(i int) Stack {
	if i < 0 || i >= len(c.Slots) {
		return Stack{}
	}
	return c.Slots[i]
}

func (c *Container) SetSlot(i int, s Stack) {
	if i < 0 || i >= len(c.Slots) {
		return
	}
	if s.Empty() {
		s = Stack{}
	}
	c.Slots[i] = s
}

// Count returns the total quantity of item across all slots.
func (c *Container) Count(item string) int {
	n := 0
	for _, s := range c.Slots {
		if s.Item == item && s.Count > 0 {
			n += s.Count
		}
	}
	return n
}

func (c *Container) Occupied() int {
	n := 0
	for _, s := range c.Slots {
		if !s.Empty() {
			n++
		}
	}
	return n
}

func (c *Container) Totals() map[string]int {
	out := map[string]int{}
	for _, s := range c.Slots {
		if s.Empty() {
			continue
		}
		out[s.Item] += s.Count
	}
	return out
}

// InventoryList returns the per-kind totals ordered by item id.
func (c *Container) InventoryList() []protocol.ItemStack {
	totals := c.Totals()
	out := make([]protocol.ItemStack, 0, len(totals))
	for item, n := range totals {
		out = append(out, protocol.ItemStack{Item: item, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out
}
