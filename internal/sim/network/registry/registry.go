// Package registry tracks which containers belong to a network and the order in which they
// are consulted. Every cache here has an explicit lifetime or a named invalidation event.
package registry

import (
	"sort"

	"chestnet.ai/internal/sim/kernel/model"
	"chestnet.ai/internal/sim/network/probe"
)

type Options struct {
	SortedViewTTL uint64 // ticks a sorted view stays valid
	OccupancyTTL  uint64 // ticks a per-container has-items answer stays valid
}

func DefaultOptions() Options {
	return Options{SortedViewTTL: 100, OccupancyTTL: 20}
}

type entry struct {
	handle probe.Handle
}

type occupancy struct {
	has bool
	at  uint64
}

// Registry is owned by one network and must only be used from its tick goroutine.
type Registry struct {
	opts  Options
	world probe.Resolver
	cls   probe.Classifier

	members []model.Vec3i
	configs map[model.Vec3i]*probe.Config

	entries  map[model.Vec3i]entry
	occupied map[model.Vec3i]occupancy

	sorted      []model.Vec3i
	sortedAt    uint64
	sortedValid bool

	byContainer      map[model.Vec3i]model.Vec3i
	byContainerValid bool
}

func New(world probe.Resolver, cls probe.Classifier, opts Options) *Registry {
	if opts.SortedViewTTL == 0 {
		opts.SortedViewTTL = DefaultOptions().SortedViewTTL
	}
	if opts.OccupancyTTL == 0 {
		opts.OccupancyTTL = DefaultOptions().OccupancyTTL
	}
	return &Registry{
		opts:     opts,
		world:    world,
		cls:      cls,
		configs:  map[model.Vec3i]*probe.Config{},
		entries:  map[model.Vec3i]entry{},
		occupied: map[model.Vec3i]occupancy{},
	}
}

// Add links pos with a default config. It reports false if pos is already a member.
func (r *Registry) Add(pos model.Vec3i) bool {
	return r.AddConfig(probe.NewConfig(pos, r.cls))
}

// AddConfig links a prepared config (load path). It reports false if its position is taken.
func (r *Registry) AddConfig(c *probe.Config) bool {
	if c == nil {
		return false
	}
	pos := c.Pos()
	if _, ok := r.configs[pos]; ok {
		return false
	}
	r.members = append(r.members, pos)
	r.configs[pos] = c
	r.onMemberChanged(pos)
	return true
}

func (r *Registry) Remove(pos model.Vec3i) bool {
	if _, ok := r.configs[pos]; !ok {
		return false
	}
	for i, p := range r.members {
		if p == pos {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	delete(r.configs, pos)
	r.onMemberChanged(pos)
	return true
}

func (r *Registry) Has(pos model.Vec3i) bool {
	_, ok := r.configs[pos]
	return ok
}

func (r *Registry) Len() int { return len(r.members) }

// Members returns the member positions in link order.
func (r *Registry) Members() []model.Vec3i {
	return append([]model.Vec3i(nil), r.members...)
}

// Config returns the live config of pos. Callers outside the network must Clone it.
func (r *Registry) Config(pos model.Vec3i) (*probe.Config, bool) {
	c, ok := r.configs[pos]
	return c, ok
}

// Configs returns the live configs in link order.
func (r *Registry) Configs() []*probe.Config {
	out := make([]*probe.Config, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, r.configs[p])
	}
	return out
}

// Handle resolves the container behind pos through the entry cache. A stale handle evicts the
// entry and reports not present.
func (r *Registry) Handle(pos model.Vec3i) (probe.Handle, bool) {
	if _, ok := r.configs[pos]; !ok {
		return nil, false
	}
	if e, ok := r.entries[pos]; ok {
		if probe.Live(e.handle) {
			return e.handle, true
		}
		r.evict(pos)
	}
	if r.world == nil {
		return nil, false
	}
	h, ok := r.world.Resolve(pos)
	if !ok || !probe.Live(h) {
		return nil, false
	}
	r.entries[pos] = entry{handle: h}
	return h, true
}

// Validate drops every member whose container no longer resolves or is removed and refreshes
// the advisory fullness of the rest. It returns the dropped positions in link order.
func (r *Registry) Validate() []model.Vec3i {
	var dropped []model.Vec3i
	for _, pos := range r.Members() {
		delete(r.entries, pos)
		h, ok := r.Handle(pos)
		if !ok {
			dropped = append(dropped, pos)
			r.Remove(pos)
			continue
		}
		if c := r.configs[pos]; c != nil {
			c.SetFullness(fullness(h))
		}
	}
	return dropped
}

// HasItems reports whether the container behind pos holds anything. The answer is cached for
// OccupancyTTL ticks.
func (r *Registry) HasItems(pos model.Vec3i, now uint64) bool {
	if o, ok := r.occupied[pos]; ok && now >= o.at && now-o.at < r.opts.OccupancyTTL {
		return o.has
	}
	h, ok := r.Handle(pos)
	if !ok {
		delete(r.occupied, pos)
		return false
	}
	has := false
	n := h.SlotCount()
	for i := 0; i < n; i++ {
		if !h.Slot(i).Empty() {
			has = true
			break
		}
	}
	r.occupied[pos] = occupancy{has: has, at: now}
	return has
}

type sortKey struct {
	pos    model.Vec3i
	tier   int
	hidden int
	has    bool
	mode   int
}

// SortedView returns the consultation order. A view younger than SortedViewTTL is reused;
// the returned slice is a copy.
func (r *Registry) SortedView(now uint64) []model.Vec3i {
	if r.sortedValid && now >= r.sortedAt && now-r.sortedAt < r.opts.SortedViewTTL {
		return append([]model.Vec3i(nil), r.sorted...)
	}
	keys := make([]sortKey, 0, len(r.members))
	for _, pos := range r.members {
		if _, ok := r.Handle(pos); !ok {
			continue
		}
		c := r.configs[pos]
		keys = append(keys, sortKey{
			pos:    pos,
			tier:   c.Tier().Rank(),
			hidden: c.Hidden(),
			has:    r.HasItems(pos, now),
			mode:   c.Mode().Rank(),
		})
	}
	sort.SliceStable(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.tier != b.tier {
			return a.tier < b.tier
		}
		if a.hidden != b.hidden {
			return a.hidden > b.hidden
		}
		if a.has != b.has {
			return a.has
		}
		return a.mode < b.mode
	})
	r.sorted = r.sorted[:0]
	for _, k := range keys {
		r.sorted = append(r.sorted, k.pos)
	}
	r.sortedAt = now
	r.sortedValid = true
	return append([]model.Vec3i(nil), r.sorted...)
}

// ContainerForPosition maps a container location back to the probe targeting it.
func (r *Registry) ContainerForPosition(containerPos model.Vec3i) (model.Vec3i, bool) {
	if !r.byContainerValid {
		r.byContainer = make(map[model.Vec3i]model.Vec3i, len(r.members))
		for _, pos := range r.members {
			h, ok := r.Handle(pos)
			if !ok {
				continue
			}
			if _, taken := r.byContainer[h.Position()]; !taken {
				r.byContainer[h.Position()] = pos
			}
		}
		r.byContainerValid = true
	}
	pos, ok := r.byContainer[containerPos]
	if !ok {
		return model.Vec3i{}, false
	}
	if _, live := r.Handle(pos); !live {
		return model.Vec3i{}, false
	}
	return pos, true
}

// OnConfigChanged must be called after any mode, tier or priority edit.
func (r *Registry) OnConfigChanged() { r.sortedValid = false }

// OnContentsChanged must be called after a container behind pos was written to.
func (r *Registry) OnContentsChanged(pos model.Vec3i) { delete(r.occupied, pos) }

// Reset drops every derived cache. Snapshot import is the only caller.
func (r *Registry) Reset() {
	r.entries = map[model.Vec3i]entry{}
	r.occupied = map[model.Vec3i]occupancy{}
	r.sorted = nil
	r.sortedValid = false
	r.byContainer = nil
	r.byContainerValid = false
}

func (r *Registry) onMemberChanged(pos model.Vec3i) {
	r.sortedValid = false
	r.byContainerValid = false
	r.evict(pos)
}

func (r *Registry) evict(pos model.Vec3i) {
	delete(r.entries, pos)
	delete(r.occupied, pos)
	r.byContainerValid = false
	r.sortedValid = false
}

func fullness(h probe.Handle) float64 {
	n := h.SlotCount()
	if n == 0 {
		return 1
	}
	used := 0
	for i := 0; i < n; i++ {
		if !h.Slot(i).Empty() {
			used++
		}
	}
	return float64(used) / float64(n)
}
