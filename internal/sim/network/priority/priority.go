// Package priority keeps the numeric priorities of a network's containers dense and
// gap-free. Every full reassignment goes through ReorderAll; SetManualPriority is the only
// localized edit and it preserves the same invariant.
package priority

import (
	"fmt"
	"sort"

	"chestnet.ai/internal/sim/kernel/model"
	"chestnet.ai/internal/sim/network/probe"
)

// Assignment maps container position to its new priority.
type Assignment map[model.Vec3i]int

// ReorderAll reassigns 1..N to the non-Custom configs, ordered by (tier, current priority).
// Custom configs get the 0 sentinel and are not part of the returned map.
func ReorderAll(cfgs []*probe.Config) Assignment {
	out := Assignment{}
	regular := make([]*probe.Config, 0, len(cfgs))
	for _, c := range cfgs {
		if c == nil {
			continue
		}
		if c.IsCustom() {
			c.SetPriority(0)
			continue
		}
		regular = append(regular, c)
	}
	if len(regular) == 0 {
		return out
	}
	sort.SliceStable(regular, func(i, j int) bool {
		ti, tj := regular[i].Tier().Rank(), regular[j].Tier().Rank()
		if ti != tj {
			return ti < tj
		}
		return regular[i].Priority() < regular[j].Priority()
	})
	for i, c := range regular {
		c.SetPriority(i + 1)
		out[c.Pos()] = i + 1
	}
	return out
}

// AddChest places a newly linked config at the end of its tier. cfgs must already contain it.
func AddChest(cfgs []*probe.Config, pos model.Vec3i) Assignment {
	if c := find(cfgs, pos); c != nil && !c.IsCustom() {
		c.SetPriority(maxPriority(cfgs) + 1)
	}
	return ReorderAll(cfgs)
}

// RemoveChest closes the gap left by pos. cfgs may or may not still contain it.
func RemoveChest(cfgs []*probe.Config, pos model.Vec3i) Assignment {
	rest := make([]*probe.Config, 0, len(cfgs))
	for _, c := range cfgs {
		if c == nil || c.Pos() == pos {
			continue
		}
		rest = append(rest, c)
	}
	return ReorderAll(rest)
}

// UpdateTier moves pos into tier t. Within the new tier it keeps its relative numeric order.
func UpdateTier(cfgs []*probe.Config, pos model.Vec3i, t probe.Tier) Assignment {
	if c := find(cfgs, pos); c != nil {
		c.SetTier(t)
	}
	return ReorderAll(cfgs)
}

// UpdateFilter changes the filter of pos. A config leaving Custom mode joins the end of its tier.
func UpdateFilter(cfgs []*probe.Config, pos model.Vec3i, mode probe.FilterMode, category string) Assignment {
	c := find(cfgs, pos)
	if c == nil {
		return ReorderAll(cfgs)
	}
	wasCustom := c.IsCustom()
	c.SetFilter(mode, category)
	if wasCustom && !c.IsCustom() {
		c.SetPriority(maxPriority(cfgs) + 1)
	}
	return ReorderAll(cfgs)
}

// SetManualPriority moves pos to target and shifts everything in between by one.
// Only the shifted configs are touched and returned. target is clamped to [1, N]; an
// Overflow config cannot leave the Lowest block. Tiers of shifted configs are re-derived
// from their new neighbours so that (tier, priority) order still equals priority order.
func SetManualPriority(cfgs []*probe.Config, pos model.Vec3i, target int) Assignment {
	out := Assignment{}
	order := byPriority(cfgs)
	idx := -1
	for i, c := range order {
		if c.Pos() == pos {
			idx = i
			break
		}
	}
	if idx < 0 {
		return out
	}
	n := len(order)
	moved := order[idx]
	if target < 1 {
		target = 1
	}
	if target > n {
		target = n
	}
	if moved.Mode() == probe.Overflow {
		for i, c := range order {
			if c.Tier() == probe.Lowest {
				if target < i+1 {
					target = i + 1
				}
				break
			}
		}
	}
	to := target - 1
	if to == idx {
		return out
	}

	if to < idx {
		copy(order[to+1:idx+1], order[to:idx])
	} else {
		copy(order[idx:to], order[idx+1:to+1])
	}
	order[to] = moved

	lo, hi := to, idx
	if lo > hi {
		lo, hi = hi, lo
	}

	// The moved config adopts the tier of the neighbour it displaced.
	if to < idx {
		moved.SetTier(order[to+1].Tier())
	} else {
		moved.SetTier(order[to-1].Tier())
	}
	for i := lo; i <= hi; i++ {
		c := order[i]
		if i > 0 && c.Tier() < order[i-1].Tier() {
			c.SetTier(order[i-1].Tier())
		}
		c.SetPriority(i + 1)
		out[c.Pos()] = i + 1
	}
	return out
}

// ValidatePriorities repairs duplicate or out-of-range saved priorities. Configs are taken
// in saved-priority order; the first holder of each value in [1, N] keeps it and every other
// config receives the lowest unused value. It returns the repaired positions in repair order.
func ValidatePriorities(cfgs []*probe.Config) []model.Vec3i {
	var fixed []model.Vec3i
	regular := make([]*probe.Config, 0, len(cfgs))
	for _, c := range cfgs {
		if c == nil {
			continue
		}
		if c.IsCustom() {
			if c.Priority() != 0 {
				c.SetPriority(0)
				fixed = append(fixed, c.Pos())
			}
			continue
		}
		regular = append(regular, c)
	}
	sort.SliceStable(regular, func(i, j int) bool { return regular[i].Priority() < regular[j].Priority() })

	n := len(regular)
	used := make([]bool, n+1)
	var broken []*probe.Config
	for _, c := range regular {
		p := c.Priority()
		if p >= 1 && p <= n && !used[p] {
			used[p] = true
			continue
		}
		broken = append(broken, c)
	}
	next := 1
	for _, c := range broken {
		for next <= n && used[next] {
			next++
		}
		used[next] = true
		c.SetPriority(next)
		fixed = append(fixed, c.Pos())
	}
	return fixed
}

// Check reports the first violation of the priority invariants, or nil.
func Check(cfgs []*probe.Config) error {
	var regular []*probe.Config
	for _, c := range cfgs {
		if c == nil {
			continue
		}
		if c.IsCustom() {
			if c.Priority() != 0 {
				return fmt.Errorf("custom config %v has priority %d", c.Pos(), c.Priority())
			}
			continue
		}
		regular = append(regular, c)
	}
	seen := make([]bool, len(regular)+1)
	for _, c := range regular {
		p := c.Priority()
		if p < 1 || p > len(regular) {
			return fmt.Errorf("config %v priority %d outside [1,%d]", c.Pos(), p, len(regular))
		}
		if seen[p] {
			return fmt.Errorf("duplicate priority %d", p)
		}
		seen[p] = true
		if c.Hidden() != c.Mode().BasePriority()-p {
			return fmt.Errorf("config %v has stale hidden priority", c.Pos())
		}
	}
	return nil
}

func find(cfgs []*probe.Config, pos model.Vec3i) *probe.Config {
	for _, c := range cfgs {
		if c != nil && c.Pos() == pos {
			return c
		}
	}
	return nil
}

func maxPriority(cfgs []*probe.Config) int {
	m := 0
	for _, c := range cfgs {
		if c != nil && c.Priority() > m {
			m = c.Priority()
		}
	}
	return m
}

// byPriority returns the non-Custom configs ordered by current priority.
func byPriority(cfgs []*probe.Config) []*probe.Config {
	out := make([]*probe.Config, 0, len(cfgs))
	for _, c := range cfgs {
		if c != nil && !c.IsCustom() {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority() < out[j].Priority() })
	return out
}
