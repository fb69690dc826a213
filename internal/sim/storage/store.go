// Package storage holds the physical chests and probe blocks of a world. The network core
// only reaches it through probe.Resolver.
package storage

import (
	"sort"

	"chestnet.ai/internal/sim/kernel/model"
	"chestnet.ai/internal/sim/logic/ids"
	"chestnet.ai/internal/sim/network/probe"
)

const ChestType = ids.TypeChest

type ProbeLink struct {
	Probe  model.Vec3i
	Target model.Vec3i
}

type Store struct {
	slotCount int
	slotLimit int

	containers map[model.Vec3i]*model.Container
	probes     map[model.Vec3i]model.Vec3i // probe -> target container
}

func New(slotCount, slotLimit int) *Store {
	return &Store{
		slotCount:  slotCount,
		slotLimit:  slotLimit,
		containers: map[model.Vec3i]*model.Container{},
		probes:     map[model.Vec3i]model.Vec3i{},
	}
}

// EnsureChest returns the chest at pos, placing an empty default-sized one if absent.
func (s *Store) EnsureChest(pos model.Vec3i) *model.Container {
	if c := s.containers[pos]; c != nil {
		return c
	}
	c := model.NewContainer(ChestType, pos, s.slotCount, s.slotLimit)
	s.containers[pos] = c
	return c
}

// PutContainer places c, replacing (and invalidating) whatever stood at its position.
func (s *Store) PutContainer(c *model.Container) {
	if c == nil {
		return
	}
	if old := s.containers[c.Pos]; old != nil && old != c {
		old.Gone = true
	}
	c.Gone = false
	s.containers[c.Pos] = c
}

// BreakContainer removes the container at pos and detaches every probe pointing at it.
// Handles still held elsewhere report Removed.
func (s *Store) BreakContainer(pos model.Vec3i) *model.Container {
	c := s.containers[pos]
	if c == nil {
		return nil
	}
	c.Gone = true
	delete(s.containers, pos)
	for p, t := range s.probes {
		if t == pos {
			delete(s.probes, p)
		}
	}
	return c
}

func (s *Store) Container(pos model.Vec3i) (*model.Container, bool) {
	c := s.containers[pos]
	return c, c != nil
}

// Containers returns all containers ordered by position.
func (s *Store) Containers() []*model.Container {
	out := make([]*model.Container, 0, len(s.containers))
	for _, c := range s.containers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pos.Less(out[j].Pos) })
	return out
}

// AttachProbe points the probe block at p to target. It fails if a probe would target itself.
func (s *Store) AttachProbe(p, target model.Vec3i) bool {
	if p == target {
		return false
	}
	s.probes[p] = target
	return true
}

func (s *Store) DetachProbe(p model.Vec3i) bool {
	if _, ok := s.probes[p]; !ok {
		return false
	}
	delete(s.probes, p)
	return true
}

func (s *Store) ProbeTarget(p model.Vec3i) (model.Vec3i, bool) {
	t, ok := s.probes[p]
	return t, ok
}

// ProbesTargeting returns the probes pointing at target, ordered by position.
func (s *Store) ProbesTargeting(target model.Vec3i) []model.Vec3i {
	var out []model.Vec3i
	for p, t := range s.probes {
		if t == target {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Probes returns all probe links ordered by probe position.
func (s *Store) Probes() []ProbeLink {
	out := make([]ProbeLink, 0, len(s.probes))
	for p, t := range s.probes {
		out = append(out, ProbeLink{Probe: p, Target: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Probe.Less(out[j].Probe) })
	return out
}

// Resolve implements probe.Resolver.
func (s *Store) Resolve(p model.Vec3i) (probe.Handle, bool) {
	t, ok := s.probes[p]
	if !ok {
		return nil, false
	}
	c := s.containers[t]
	if c == nil || c.Gone {
		return nil, false
	}
	return c, true
}
