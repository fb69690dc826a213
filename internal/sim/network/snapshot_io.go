package network

import (
	"context"
	"errors"
	"fmt"

	"chestnet.ai/internal/persistence/snapshot"
	"chestnet.ai/internal/sim/kernel/model"
	"chestnet.ai/internal/sim/network/probe"
)

func (n *Network) ExportSnapshot(tick uint64) snapshot.SnapshotV1 {
	s := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:   snapshot.Version,
			NetworkID: n.cfg.ID,
			Tick:      tick,
			RunID:     n.runID,
		},
		TickRate:      n.cfg.TickRateHz,
		SlotCount:     n.cfg.SlotCount,
		SlotLimit:     n.cfg.SlotLimit,
		SortedViewTTL: n.cfg.SortedViewTTLTicks,
		OccupancyTTL:  n.cfg.OccupancyTTLTicks,
		SnapshotEvery: n.cfg.SnapshotEveryTicks,
	}
	if n.items != nil {
		s.ItemsDefsDigest = n.items.DefsDigest
	}
	for _, r := range n.ExportRecords() {
		target, ok := n.store.ProbeTarget(r.Pos)
		if !ok {
			// Container broken; the next validate pass drops the member.
			continue
		}
		s.Probes = append(s.Probes, snapshot.ProbeV1{
			Pos:      r.Pos.ToArray(),
			Target:   target.ToArray(),
			Name:     r.Name,
			Mode:     r.Mode,
			Category: r.Category,
			Priority: r.Priority,
			Tier:     r.Tier,
		})
	}
	for _, c := range n.store.Containers() {
		cv := snapshot.ContainerV1{Type: c.Type, Pos: c.Pos.ToArray(), Size: c.SlotCount(), Limit: c.Limit}
		for i, st := range c.Slots {
			if st.Empty() {
				continue
			}
			cv.Slots = append(cv.Slots, snapshot.SlotV1{Index: i, Item: st.Item, Count: st.Count})
		}
		s.Containers = append(s.Containers, cv)
	}
	return s
}

// ImportSnapshot loads s into an empty network. The tick resumes right after the snapshot.
func (n *Network) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version %d", s.Header.Version)
	}
	if n.reg.Len() > 0 || len(n.store.Containers()) > 0 {
		return errors.New("import into a non-empty network")
	}
	if n.items != nil && s.ItemsDefsDigest != "" && s.ItemsDefsDigest != n.items.DefsDigest {
		n.logger.Printf("warn: snapshot items digest differs from loaded catalog")
	}

	for _, cv := range s.Containers {
		c := model.NewContainer(cv.Type, model.FromArray(cv.Pos), cv.Size, cv.Limit)
		for _, sl := range cv.Slots {
			if sl.Index < 0 || sl.Index >= len(c.Slots) {
				return fmt.Errorf("container %v: slot %d out of range", cv.Pos, sl.Index)
			}
			c.SetSlot(sl.Index, model.Stack{Item: sl.Item, Count: sl.Count})
		}
		n.store.PutContainer(c)
	}
	recs := make([]probe.Record, 0, len(s.Probes))
	for _, pv := range s.Probes {
		p := model.FromArray(pv.Pos)
		if !n.store.AttachProbe(p, model.FromArray(pv.Target)) {
			return fmt.Errorf("probe %v targets itself", pv.Pos)
		}
		recs = append(recs, probe.Record{
			Pos:      p,
			Name:     pv.Name,
			Mode:     pv.Mode,
			Category: pv.Category,
			Priority: pv.Priority,
			Tier:     pv.Tier,
		})
	}
	// Full rebuild: nothing cached before the import may survive it.
	n.reg.Reset()
	n.ImportRecords(recs)
	n.tick.Store(s.Header.Tick + 1)
	return nil
}

type adminSnapshotReq struct {
	Resp chan adminSnapshotResp
}

type adminSnapshotResp struct {
	Tick uint64
	Err  string
}

// RequestSnapshot asks the loop goroutine to push a snapshot to the sink.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (n *Network) RequestSnapshot(ctx context.Context) (tick uint64, err error) {
	resp := make(chan adminSnapshotResp, 1)
	select {
	case n.admin <- adminSnapshotReq{Resp: resp}:
	case <-n.done:
		return 0, errClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Tick, errors.New(r.Err)
		}
		return r.Tick, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (n *Network) handleAdminSnapshotRequests(reqs []adminSnapshotReq) {
	if len(reqs) == 0 {
		return
	}
	cur := n.tick.Load()
	snapTick := uint64(0)
	if cur > 0 {
		snapTick = cur - 1
	}

	errStr := ""
	if n.snapshotSink == nil {
		errStr = "snapshot sink not configured"
	} else {
		select {
		case n.snapshotSink <- n.ExportSnapshot(snapTick):
		default:
			errStr = "snapshot sink backpressure"
		}
	}

	resp := adminSnapshotResp{Tick: snapTick, Err: errStr}
	for _, r := range reqs {
		select {
		case r.Resp <- resp:
		default:
			// Client timed out; don't block the loop.
		}
	}
}
