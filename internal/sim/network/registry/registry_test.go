package registry

import (
	"testing"

	"chestnet.ai/internal/sim/kernel/model"
	"chestnet.ai/internal/sim/network/priority"
	"chestnet.ai/internal/sim/network/probe"
	"chestnet.ai/internal/sim/storage"
)

type noTags struct{}

func (noTags) HasCategory(string, string) bool { return false }

func probeAt(x int) model.Vec3i { return model.Vec3i{X: x, Y: 1} }
func chestAt(x int) model.Vec3i { return model.Vec3i{X: x} }

// world links n probes (x=1..n) to chests directly below them.
func world(n int) *storage.Store {
	s := storage.New(4, 64)
	for i := 1; i <= n; i++ {
		s.EnsureChest(chestAt(i))
		s.AttachProbe(probeAt(i), chestAt(i))
	}
	return s
}

func TestAddIsIdempotent(t *testing.T) {
	r := New(world(1), noTags{}, DefaultOptions())
	if !r.Add(probeAt(1)) {
		t.Fatalf("first Add should succeed")
	}
	if r.Add(probeAt(1)) {
		t.Fatalf("second Add should report false")
	}
	if r.Len() != 1 {
		t.Fatalf("member count should grow by exactly one, got %d", r.Len())
	}
}

func TestRemoveEvictsCaches(t *testing.T) {
	r := New(world(2), noTags{}, DefaultOptions())
	r.Add(probeAt(1))
	r.Add(probeAt(2))
	if got := r.SortedView(0); len(got) != 2 {
		t.Fatalf("expected 2 members in view, got %v", got)
	}
	if _, ok := r.ContainerForPosition(chestAt(1)); !ok {
		t.Fatalf("reverse lookup should find probe 1")
	}
	if !r.Remove(probeAt(1)) || r.Remove(probeAt(1)) {
		t.Fatalf("Remove should succeed once")
	}
	if got := r.SortedView(1); len(got) != 1 || got[0] != probeAt(2) {
		t.Fatalf("view must be rebuilt after removal, got %v", got)
	}
	if _, ok := r.ContainerForPosition(chestAt(1)); ok {
		t.Fatalf("reverse lookup must forget removed probe")
	}
	if _, ok := r.Handle(probeAt(1)); ok {
		t.Fatalf("removed member must not resolve")
	}
}

func TestValidateDropsStaleMembers(t *testing.T) {
	w := world(3)
	r := New(w, noTags{}, DefaultOptions())
	for i := 1; i <= 3; i++ {
		r.Add(probeAt(i))
	}
	c, _ := w.Container(chestAt(3))
	c.SetSlot(0, model.Stack{Item: "COAL", Count: 1})

	w.BreakContainer(chestAt(2))
	// Mid-operation detection: the cached handle is dropped and reported as not present.
	if _, ok := r.Handle(probeAt(2)); ok {
		t.Fatalf("broken container must read as not present")
	}
	if r.Len() != 3 {
		t.Fatalf("membership only changes on Validate, got %d", r.Len())
	}

	dropped := r.Validate()
	if len(dropped) != 1 || dropped[0] != probeAt(2) {
		t.Fatalf("unexpected dropped set: %v", dropped)
	}
	if r.Has(probeAt(2)) || r.Len() != 2 {
		t.Fatalf("stale member still registered")
	}
	cfg, _ := r.Config(probeAt(3))
	if cfg.Fullness() != 0.25 {
		t.Fatalf("fullness should be refreshed by Validate, got %v", cfg.Fullness())
	}
}

func TestSortedViewTierOrdering(t *testing.T) {
	r := New(world(4), noTags{}, DefaultOptions())
	tiers := []probe.Tier{probe.Lowest, probe.Medium, probe.Highest, probe.High}
	for i, tier := range tiers {
		r.Add(probeAt(i + 1))
		c, _ := r.Config(probeAt(i + 1))
		c.SetTier(tier)
		c.SetPriority(i + 1)
	}
	// Deliberately skip priority.ReorderAll: tier must win over numeric priority anyway.
	view := r.SortedView(0)
	want := []model.Vec3i{probeAt(3), probeAt(4), probeAt(2), probeAt(1)}
	for i := range want {
		if view[i] != want[i] {
			t.Fatalf("view[%d]=%v want %v (full %v)", i, view[i], want[i], view)
		}
	}
}

func TestSortedViewCustomFirstThenOverflowLast(t *testing.T) {
	w := world(4)
	r := New(w, noTags{}, DefaultOptions())
	for i := 1; i <= 4; i++ {
		r.Add(probeAt(i))
	}
	cfg := func(i int) *probe.Config { c, _ := r.Config(probeAt(i)); return c }
	cfg(1).SetFilter(probe.Overflow, "")
	cfg(2).SetFilter(probe.Custom, "")
	cfg(3).SetFilter(probe.Custom, "")
	cfg(4).SetTier(probe.Lowest)
	priority.ReorderAll(r.Configs())

	// Among the two Custom containers the one holding items comes first.
	c3, _ := w.Container(chestAt(3))
	c3.SetSlot(2, model.Stack{Item: "COAL", Count: 5})

	view := r.SortedView(0)
	want := []model.Vec3i{probeAt(3), probeAt(2), probeAt(4), probeAt(1)}
	for i := range want {
		if view[i] != want[i] {
			t.Fatalf("view[%d]=%v want %v (full %v)", i, view[i], want[i], view)
		}
	}
}

func TestSortedViewIsCachedForTTL(t *testing.T) {
	r := New(world(2), noTags{}, Options{SortedViewTTL: 100, OccupancyTTL: 20})
	r.Add(probeAt(1))
	r.Add(probeAt(2))
	priority.ReorderAll(r.Configs())
	first := r.SortedView(10)
	if first[0] != probeAt(1) {
		t.Fatalf("unexpected initial order %v", first)
	}

	priority.SetManualPriority(r.Configs(), probeAt(2), 1)
	if got := r.SortedView(50); got[0] != probeAt(1) {
		t.Fatalf("view younger than TTL must be reused, got %v", got)
	}
	if got := r.SortedView(110); got[0] != probeAt(2) {
		t.Fatalf("expired view must be rebuilt, got %v", got)
	}

	priority.SetManualPriority(r.Configs(), probeAt(1), 1)
	r.OnConfigChanged()
	if got := r.SortedView(111); got[0] != probeAt(1) {
		t.Fatalf("OnConfigChanged must force a rebuild, got %v", got)
	}
}

func TestHasItemsCachedUntilContentsChange(t *testing.T) {
	w := world(1)
	r := New(w, noTags{}, Options{SortedViewTTL: 100, OccupancyTTL: 20})
	r.Add(probeAt(1))
	if r.HasItems(probeAt(1), 0) {
		t.Fatalf("empty chest reported items")
	}
	c, _ := w.Container(chestAt(1))
	c.SetSlot(3, model.Stack{Item: "PLANK", Count: 1})
	if r.HasItems(probeAt(1), 5) {
		t.Fatalf("answer should be cached within the TTL")
	}
	if !r.HasItems(probeAt(1), 20) {
		t.Fatalf("expired answer should be refreshed")
	}
	c.SetSlot(3, model.Stack{})
	r.OnContentsChanged(probeAt(1))
	if r.HasItems(probeAt(1), 21) {
		t.Fatalf("OnContentsChanged should drop the cached answer")
	}
}

func TestContainerForPosition(t *testing.T) {
	w := world(2)
	r := New(w, noTags{}, DefaultOptions())
	r.Add(probeAt(1))
	if pos, ok := r.ContainerForPosition(chestAt(1)); !ok || pos != probeAt(1) {
		t.Fatalf("unexpected reverse lookup: %v %v", pos, ok)
	}
	if _, ok := r.ContainerForPosition(chestAt(2)); ok {
		t.Fatalf("unlinked chest must not map to a probe")
	}
	r.Add(probeAt(2))
	if pos, ok := r.ContainerForPosition(chestAt(2)); !ok || pos != probeAt(2) {
		t.Fatalf("reverse index must rebuild after Add: %v %v", pos, ok)
	}
	w.BreakContainer(chestAt(2))
	if _, ok := r.ContainerForPosition(chestAt(2)); ok {
		t.Fatalf("broken container must not resolve through the reverse index")
	}
}

func TestResetDropsDerivedCaches(t *testing.T) {
	w := world(2)
	r := New(w, noTags{}, Options{SortedViewTTL: 100, OccupancyTTL: 20})
	r.Add(probeAt(1))
	r.Add(probeAt(2))
	priority.ReorderAll(r.Configs())
	if got := r.SortedView(10); got[0] != probeAt(1) {
		t.Fatalf("unexpected initial order %v", got)
	}
	if r.HasItems(probeAt(1), 10) {
		t.Fatalf("empty chest reported items")
	}

	// Edits without the matching invalidation events.
	priority.SetManualPriority(r.Configs(), probeAt(2), 1)
	c, _ := w.Container(chestAt(1))
	c.SetSlot(0, model.Stack{Item: "PLANK", Count: 2})

	r.Reset()
	if got := r.SortedView(11); got[0] != probeAt(2) {
		t.Fatalf("view must be rebuilt after Reset, got %v", got)
	}
	if !r.HasItems(probeAt(1), 11) {
		t.Fatalf("occupancy must be re-measured after Reset")
	}
	if pos, ok := r.ContainerForPosition(chestAt(2)); !ok || pos != probeAt(2) {
		t.Fatalf("reverse index after Reset: %v %v", pos, ok)
	}
}
