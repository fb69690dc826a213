package aggregate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chestnet.ai/internal/sim/kernel/model"
	"chestnet.ai/internal/sim/network/registry"
	"chestnet.ai/internal/sim/storage"
)

type noTags struct{}

func (noTags) HasCategory(string, string) bool { return false }

type fixture struct {
	world *storage.Store
	reg   *registry.Registry
}

func newFixture(t *testing.T, n int) fixture {
	t.Helper()
	w := storage.New(4, 64)
	r := registry.New(w, noTags{}, registry.DefaultOptions())
	for i := 1; i <= n; i++ {
		w.EnsureChest(model.Vec3i{X: i})
		w.AttachProbe(model.Vec3i{X: i, Y: 1}, model.Vec3i{X: i})
		require.True(t, r.Add(model.Vec3i{X: i, Y: 1}))
	}
	return fixture{world: w, reg: r}
}

func (f fixture) chest(i int) *model.Container {
	c, _ := f.world.Container(model.Vec3i{X: i})
	return c
}

func TestRefreshBuildsTotalsAndLocations(t *testing.T) {
	f := newFixture(t, 3)
	f.chest(1).SetSlot(0, model.Stack{Item: "COAL", Count: 10})
	f.chest(1).SetSlot(1, model.Stack{Item: "COAL", Count: 5})
	f.chest(3).SetSlot(2, model.Stack{Item: "COAL", Count: 1})
	f.chest(2).SetSlot(0, model.Stack{Item: "PLANK", Count: 7})

	a := New()
	a.Refresh(f.reg, 0)

	require.Equal(t, 16, a.Total("COAL"))
	require.Equal(t, 7, a.Total("PLANK"))
	require.Equal(t, []model.Vec3i{{X: 1, Y: 1}, {X: 3, Y: 1}}, a.Locations("COAL"))
	require.Empty(t, a.Locations("IRON_ORE"))

	// Every listed location actually holds the kind right after a refresh.
	for _, item := range []string{"COAL", "PLANK"} {
		for _, pos := range a.Locations(item) {
			h, ok := f.reg.Handle(pos)
			require.True(t, ok)
			held := 0
			for i := 0; i < h.SlotCount(); i++ {
				if s := h.Slot(i); s.Item == item {
					held += s.Count
				}
			}
			require.GreaterOrEqual(t, held, 1, "stale listing of %s at %v", item, pos)
		}
	}
}

func TestSnapshotIsCopyOnWrite(t *testing.T) {
	f := newFixture(t, 1)
	f.chest(1).SetSlot(0, model.Stack{Item: "COAL", Count: 3})

	a := New()
	a.Refresh(f.reg, 0)
	s1 := a.Snapshot()
	require.Same(t, s1, a.Snapshot(), "unchanged aggregate must return the cached snapshot")

	m := s1.Map()
	m["COAL"] = 999
	require.Equal(t, 3, s1.Count("COAL"), "Map must return a private copy")

	f.chest(1).SetSlot(0, model.Stack{Item: "COAL", Count: 8})
	f.reg.OnContentsChanged(model.Vec3i{X: 1, Y: 1})
	a.Refresh(f.reg, 1)
	s2 := a.Snapshot()
	require.NotSame(t, s1, s2)
	require.Equal(t, 3, s1.Count("COAL"), "old snapshot must not change")
	require.Equal(t, 8, s2.Count("COAL"))
}

func TestConsumeDeltas(t *testing.T) {
	f := newFixture(t, 2)
	f.chest(1).SetSlot(0, model.Stack{Item: "COAL", Count: 3})
	f.chest(2).SetSlot(0, model.Stack{Item: "PLANK", Count: 4})

	a := New()
	a.Refresh(f.reg, 0)
	require.Equal(t, map[string]int{"COAL": 3, "PLANK": 4}, a.ConsumeDeltas())
	require.Empty(t, a.ConsumeDeltas(), "deltas are cleared once consumed")

	f.chest(1).SetSlot(0, model.Stack{})
	f.chest(2).SetSlot(1, model.Stack{Item: "PLANK", Count: 1})
	a.Refresh(f.reg, 1)

	// Unchanged refresh adds nothing; the later value of a kind wins.
	a.Refresh(f.reg, 2)
	d := a.ConsumeDeltas()
	require.Equal(t, map[string]int{"COAL": 0, "PLANK": 5}, d)
	require.LessOrEqual(t, d["COAL"], 0, "vanished kinds are reported as removals")
}

func TestRefreshSkipsUnresolvableContainers(t *testing.T) {
	f := newFixture(t, 2)
	f.chest(1).SetSlot(0, model.Stack{Item: "COAL", Count: 3})
	f.chest(2).SetSlot(0, model.Stack{Item: "COAL", Count: 4})
	f.world.BreakContainer(model.Vec3i{X: 2})

	a := New()
	a.Refresh(f.reg, 0)
	require.Equal(t, 3, a.Total("COAL"))
	require.Equal(t, []model.Vec3i{{X: 1, Y: 1}}, a.Locations("COAL"))
}

func TestDue(t *testing.T) {
	f := newFixture(t, 1)
	a := New()
	require.True(t, a.Due(0, 20), "never refreshed")
	a.Refresh(f.reg, 5)
	require.False(t, a.Due(10, 20))
	require.True(t, a.Due(25, 20))
	a.MarkStale()
	require.True(t, a.Due(6, 20))
	a.Refresh(f.reg, 6)
	require.False(t, a.Due(7, 20))
}
