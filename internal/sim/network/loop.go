package network

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"chestnet.ai/internal/sim/kernel/model"
	"chestnet.ai/internal/sim/network/aggregate"
	"chestnet.ai/internal/sim/network/priority"
)

func (n *Network) Run(ctx context.Context) error {
	defer close(n.done)
	interval := time.Second / time.Duration(n.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []Command
	var pendingAdmin []adminSnapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.stop:
			return nil
		case req := <-n.subscribe:
			n.handleSubscribe(req)
		case id := <-n.unsubscribe:
			delete(n.subs, id)
		case req := <-n.admin:
			pendingAdmin = append(pendingAdmin, req)
		case cmd := <-n.inbox:
			if len(pending) >= n.cfg.MaxCommandsPerTick {
				n.reply(cmd, BusyResult(cmd.Act, n.tick.Load()))
				continue
			}
			pending = append(pending, cmd)
		case <-ticker.C:
			n.step(pending)
			n.handleAdminSnapshotRequests(pendingAdmin)
			pending = pending[:0]
			pendingAdmin = pendingAdmin[:0]
		}
	}
}

// StepOnce advances the network by a single tick using the same ordering as Run.
// It is meant for tests and offline tools that do not run the loop.
func (n *Network) StepOnce(cmds []Command) (tick uint64, digest string) {
	tick = n.tick.Load()
	n.step(cmds)
	return tick, contentsDigest(n.agg.Snapshot())
}

func (n *Network) step(cmds []Command) {
	stepStart := time.Now()
	now := n.tick.Load()

	// Membership and ordering edits first, then routing, each in receive order.
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		if structural(c.Act.Action) {
			ordered = append(ordered, c)
		}
	}
	for _, c := range cmds {
		if !structural(c.Act.Action) {
			ordered = append(ordered, c)
		}
	}
	recorded := make([]RecordedCommand, 0, len(ordered))
	for _, c := range ordered {
		res := n.apply(c.Session, c.Act, now)
		n.reply(c, res)
		recorded = append(recorded, RecordedCommand{Session: c.Session, Act: c.Act, OK: res.OK, Code: res.Code})
	}

	n.advanceSorts()
	dropped := n.maintain(now)

	refreshed := false
	if n.agg.Due(now, uint64(n.cfg.RefreshEveryTicks)) {
		n.agg.Refresh(n.reg, now)
		refreshed = true
	}
	changed := n.agg.PendingDeltas()
	n.broadcast(now)

	snap := n.agg.Snapshot()
	digest := contentsDigest(snap)
	if n.tickLogger != nil {
		entry := TickLogEntry{
			Tick:      now,
			Commands:  recorded,
			Refreshed: refreshed,
			Kinds:     snap.Len(),
			Members:   n.reg.Len(),
			Digest:    digest,
		}
		for _, p := range dropped {
			entry.Dropped = append(entry.Dropped, p.ToArray())
		}
		_ = n.tickLogger.WriteTick(entry)
	}

	// Snapshot every N ticks, starting after tick 0.
	if n.snapshotSink != nil && now != 0 && n.cfg.SnapshotEveryTicks > 0 {
		if now%uint64(n.cfg.SnapshotEveryTicks) == 0 {
			select {
			case n.snapshotSink <- n.ExportSnapshot(now):
			default:
				// Drop snapshot if sink is backed up.
			}
		}
	}

	nextTick := n.tick.Add(1)
	n.metrics.Store(Metrics{
		Tick:        nextTick,
		Members:     n.reg.Len(),
		Kinds:       snap.Len(),
		Subscribers: len(n.subs),
		Commands:    len(recorded),
		InboxDepth:  len(n.inbox),
		SortJobs:    len(n.sortJobs),
		StepMS:      float64(time.Since(stepStart).Microseconds()) / 1000.0,

		ChangedKinds: changed,
		LastRefresh:  n.agg.LastRefresh(),
	})
}

// maintain drops members whose container is gone, on the validate cadence.
func (n *Network) maintain(now uint64) []model.Vec3i {
	if now%uint64(n.cfg.ValidateEveryTicks) != 0 {
		return nil
	}
	dropped := n.reg.Validate()
	if len(dropped) == 0 {
		return nil
	}
	for _, p := range dropped {
		n.store.DetachProbe(p)
	}
	priority.ReorderAll(n.reg.Configs())
	n.reg.OnConfigChanged()
	n.agg.MarkStale()
	n.logger.Printf("warn: dropped %d probes with missing containers: %v", len(dropped), dropped)
	for _, p := range dropped {
		n.audit(AuditEntry{Tick: now, Actor: "SYSTEM", Action: AuditUnlink, Pos: p.ToArray(), Reason: "container missing"})
	}
	return dropped
}

// contentsDigest hashes the totals in item order.
func contentsDigest(s *aggregate.Snapshot) string {
	h := sha256.New()
	for _, it := range s.Items() {
		fmt.Fprintf(h, "%s:%d\n", it.Item, it.Count)
	}
	return hex.EncodeToString(h.Sum(nil))
}
