package network

import (
	"fmt"

	"chestnet.ai/internal/protocol"
	"chestnet.ai/internal/sim/kernel/model"
	"chestnet.ai/internal/sim/logic/ids"
	"chestnet.ai/internal/sim/network/aggregate"
	"chestnet.ai/internal/sim/network/priority"
	"chestnet.ai/internal/sim/network/probe"
	"chestnet.ai/internal/sim/network/routing"
)

// The operations below mutate network state directly. They must run on the loop goroutine
// (commands do) or before Run starts.

// Link points the probe at p to target and joins it to the network at the end of its tier.
// A default chest is placed at target when none stands there.
func (n *Network) Link(p, target model.Vec3i, actor string) error {
	if p == target {
		return fmt.Errorf("%w: probe cannot target itself", ErrBadArgument)
	}
	if n.reg.Has(p) {
		return fmt.Errorf("%w: %v", ErrAlreadyLinked, p)
	}
	// One probe per container, otherwise its contents would be counted twice.
	if other, ok := n.reg.ContainerForPosition(target); ok {
		return fmt.Errorf("%w: container %v already linked by %v", ErrConflict, target, other)
	}
	// A member whose handle is stale would resolve again once a chest stands at target.
	for _, q := range n.store.ProbesTargeting(target) {
		if q == p {
			continue
		}
		if n.reg.Has(q) {
			return fmt.Errorf("%w: container %v already linked by %v", ErrConflict, target, q)
		}
		n.store.DetachProbe(q)
	}
	n.store.EnsureChest(target)
	n.store.AttachProbe(p, target)
	n.reg.Add(p)
	priority.AddChest(n.reg.Configs(), p)
	n.reg.OnConfigChanged()
	n.agg.MarkStale()
	n.audit(AuditEntry{Actor: actor, Action: AuditLink, Pos: p.ToArray()})
	return nil
}

func (n *Network) Unlink(p model.Vec3i, actor string) error {
	if !n.reg.Remove(p) {
		return fmt.Errorf("%w: %v", ErrNotLinked, p)
	}
	n.store.DetachProbe(p)
	priority.RemoveChest(n.reg.Configs(), p)
	n.reg.OnConfigChanged()
	n.agg.MarkStale()
	n.audit(AuditEntry{Actor: actor, Action: AuditUnlink, Pos: p.ToArray()})
	return nil
}

// Deposit routes s into the network. Whatever does not fit comes back as the remainder.
func (n *Network) Deposit(s model.Stack, actor string) routing.InsertionResult {
	res := n.eng.Insert(s, n.tick.Load())
	if res.Placed > 0 {
		n.audit(AuditEntry{
			Actor:      actor,
			Action:     AuditInsert,
			Pos:        res.Destination.ToArray(),
			Item:       s.Item,
			Count:      res.Placed,
			Remainder:  res.Remainder.Count,
			Overflowed: res.Overflowed,
		})
	}
	return res
}

// Withdraw takes up to count of item out of the network.
func (n *Network) Withdraw(item string, count int, actor string) model.Stack {
	now := n.tick.Load()
	// Extraction walks the location index; make sure it reflects this tick's inserts.
	if n.agg.Stale() {
		n.agg.Refresh(n.reg, now)
	}
	got := n.eng.Extract(item, count, now)
	if !got.Empty() {
		n.audit(AuditEntry{Actor: actor, Action: AuditExtract, Item: item, Count: got.Count})
	}
	return got
}

func (n *Network) config(p model.Vec3i) (*probe.Config, error) {
	cfg, ok := n.reg.Config(p)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNotLinked, p)
	}
	return cfg, nil
}

func (n *Network) Rename(p model.Vec3i, name string) error {
	cfg, err := n.config(p)
	if err != nil {
		return err
	}
	cfg.SetName(name)
	return nil
}

// SetFilter changes the acceptance policy of p. A mode that needs a category but gets none is
// stored as is; such a container accepts nothing until fixed.
func (n *Network) SetFilter(p model.Vec3i, mode probe.FilterMode, category string) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: filter mode %d", ErrBadArgument, mode)
	}
	if _, err := n.config(p); err != nil {
		return err
	}
	priority.UpdateFilter(n.reg.Configs(), p, mode, category)
	n.reg.OnConfigChanged()
	if mode.NeedsCategory() && category == "" {
		n.logger.Printf("warn: %v mode %s without category accepts nothing", p, mode)
	}
	return nil
}

// SetTier moves p into t. Overflow and Custom containers keep their pinned tier.
func (n *Network) SetTier(p model.Vec3i, t probe.Tier) error {
	if !t.Valid() {
		return fmt.Errorf("%w: tier %d", ErrBadArgument, t)
	}
	if _, err := n.config(p); err != nil {
		return err
	}
	priority.UpdateTier(n.reg.Configs(), p, t)
	n.reg.OnConfigChanged()
	return nil
}

// SetManualPriority moves p to target, shifting the entries in between. Targets outside [1, N]
// are clamped.
func (n *Network) SetManualPriority(p model.Vec3i, target int) error {
	cfg, err := n.config(p)
	if err != nil {
		return err
	}
	if cfg.IsCustom() {
		return fmt.Errorf("%w: custom containers have no numeric priority", ErrConflict)
	}
	priority.SetManualPriority(n.reg.Configs(), p, target)
	n.reg.OnConfigChanged()
	return nil
}

// Configure applies the set fields of e, in the order name, filter, tier.
func (n *Network) Configure(p model.Vec3i, e protocol.ConfigEdit, actor string) error {
	cfg, err := n.config(p)
	if err != nil {
		return err
	}
	mode, category := cfg.Mode(), cfg.Category()
	filterChanged := false
	if e.Mode != nil {
		m, ok := probe.ParseFilterMode(*e.Mode)
		if !ok {
			return fmt.Errorf("%w: unknown mode %q", ErrBadArgument, *e.Mode)
		}
		mode, filterChanged = m, true
	}
	if e.Category != nil {
		category, filterChanged = *e.Category, true
	}
	var tier probe.Tier
	if e.Tier != nil {
		t, ok := probe.ParseTier(*e.Tier)
		if !ok {
			return fmt.Errorf("%w: unknown tier %q", ErrBadArgument, *e.Tier)
		}
		tier = t
	}

	if e.Name != nil {
		cfg.SetName(*e.Name)
	}
	if filterChanged {
		if err := n.SetFilter(p, mode, category); err != nil {
			return err
		}
	}
	if e.Tier != nil {
		if err := n.SetTier(p, tier); err != nil {
			return err
		}
	}
	n.audit(AuditEntry{Actor: actor, Action: AuditConfigure, Pos: p.ToArray(), Reason: fmt.Sprintf("%s/%s/%s", cfg.Mode(), cfg.Category(), cfg.Tier())})
	return nil
}

// Contents returns the current totals, refreshing first if contents changed since the last scan.
func (n *Network) Contents() *aggregate.Snapshot {
	if n.agg.Stale() {
		n.agg.Refresh(n.reg, n.tick.Load())
	}
	return n.agg.Snapshot()
}

func (n *Network) ConsumeDeltas() map[string]int { return n.agg.ConsumeDeltas() }

// Configs returns detached copies of every member config, in link order.
func (n *Network) Configs() []*probe.Config {
	cfgs := n.reg.Configs()
	out := make([]*probe.Config, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, c.Clone())
	}
	return out
}

// Probes describes every member in consultation order, with what its container holds.
func (n *Network) Probes() []protocol.ProbeObs {
	now := n.tick.Load()
	view := n.reg.SortedView(now)
	out := make([]protocol.ProbeObs, 0, len(view))
	for _, p := range view {
		cfg, ok := n.reg.Config(p)
		if !ok {
			continue
		}
		target, _ := n.store.ProbeTarget(p)
		obs := protocol.ProbeObs{
			ID:       ids.Probe(p.X, p.Y, p.Z),
			Pos:      p.ToArray(),
			Target:   target.ToArray(),
			Name:     cfg.Name(),
			Mode:     cfg.Mode().String(),
			Category: cfg.Category(),
			Priority: cfg.Priority(),
			Tier:     cfg.Tier().String(),
			Fullness: cfg.Fullness(),
		}
		if c, ok := n.store.Container(target); ok && !c.Removed() {
			obs.Container = c.ID()
			obs.Items = c.InventoryList()
		}
		out = append(out, obs)
	}
	return out
}

func (n *Network) ExportRecords() []probe.Record {
	cfgs := n.reg.Configs()
	out := make([]probe.Record, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, c.ToRecord())
	}
	return out
}

// ImportRecords adds saved configs to the network. Saved priorities are checked first; any
// duplicate or out-of-range value is repaired and the repaired positions are returned.
func (n *Network) ImportRecords(recs []probe.Record) []model.Vec3i {
	for _, r := range recs {
		if !n.reg.AddConfig(probe.FromRecord(r, n.items)) {
			n.logger.Printf("warn: duplicate probe record at %v ignored", r.Pos)
		}
	}
	repaired := priority.ValidatePriorities(n.reg.Configs())
	priority.ReorderAll(n.reg.Configs())
	n.reg.OnConfigChanged()
	n.agg.MarkStale()
	if len(repaired) > 0 {
		n.logger.Printf("warn: repaired %d saved priorities: %v", len(repaired), repaired)
		for _, p := range repaired {
			n.audit(AuditEntry{Actor: "SYSTEM", Action: AuditRepair, Pos: p.ToArray()})
		}
	}
	return repaired
}
