package model

import "testing"

func TestContainerSlotBounds(t *testing.T) {
	c := NewContainer("CHEST", Vec3i{X: 1}, 2, 64)
	c.SetSlot(5, Stack{Item: "COAL", Count: 3})
	c.SetSlot(-1, Stack{Item: "COAL", Count: 3})
	if c.Occupied() != 0 {
		t.Fatalf("out of range SetSlot must be ignored, got occupied=%d", c.Occupied())
	}
	if s := c.Slot(9); !s.Empty() {
		t.Fatalf("expected empty stack for out of range slot, got %+v", s)
	}
	c.SetSlot(0, Stack{Item: "COAL", Count: 0})
	if s := c.Slot(0); s.Item != "" {
		t.Fatalf("zero-count stack should normalize to empty, got %+v", s)
	}
}

func TestContainerInventoryList(t *testing.T) {
	c := NewContainer("CHEST", Vec3i{}, 3, 64)
	c.SetSlot(0, Stack{Item: "IRON_ORE", Count: 10})
	c.SetSlot(1, Stack{Item: "COAL", Count: 4})
	c.SetSlot(2, Stack{Item: "IRON_ORE", Count: 5})

	got := c.InventoryList()
	if len(got) != 2 {
		t.Fatalf("expected 2 kinds, got %#v", got)
	}
	if got[0].Item != "COAL" || got[0].Count != 4 {
		t.Fatalf("unexpected first entry: %#v", got[0])
	}
	if got[1].Item != "IRON_ORE" || got[1].Count != 15 {
		t.Fatalf("unexpected second entry: %#v", got[1])
	}
	if c.Count("IRON_ORE") != 15 {
		t.Fatalf("Count mismatch: %d", c.Count("IRON_ORE"))
	}
}

func TestContainerID(t *testing.T) {
	c := NewContainer("CHEST", Vec3i{X: 3, Y: -1, Z: 7}, 1, 64)
	if got := c.ID(); got != "CHEST@3,-1,7" {
		t.Fatalf("unexpected id %q", got)
	}
}
