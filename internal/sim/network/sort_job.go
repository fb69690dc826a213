package network

import (
	"fmt"

	"chestnet.ai/internal/sim/kernel/model"
)

// sortJob empties one outside container into the network, a few slots per tick.
type sortJob struct {
	src   model.Vec3i
	actor string
	next  int
}

// DepositAll queues every stack of the container at src for insertion. The work is spread
// over ticks; stacks that do not fit stay in src.
func (n *Network) DepositAll(src model.Vec3i, actor string) error {
	if _, ok := n.store.Container(src); !ok {
		return fmt.Errorf("%w: %v", ErrNoContainer, src)
	}
	if p, linked := n.reg.ContainerForPosition(src); linked {
		return fmt.Errorf("%w: %v is linked by probe %v", ErrConflict, src, p)
	}
	for _, j := range n.sortJobs {
		if j.src == src {
			return fmt.Errorf("%w: %v is already being sorted", ErrConflict, src)
		}
	}
	n.sortJobs = append(n.sortJobs, &sortJob{src: src, actor: actor})
	return nil
}

func (n *Network) advanceSorts() {
	budget := n.cfg.SortSlotsPerTick
	keep := n.sortJobs[:0]
	for _, j := range n.sortJobs {
		c, ok := n.store.Container(j.src)
		if !ok || c.Removed() {
			n.logger.Printf("warn: sort source %v vanished", j.src)
			continue
		}
		if _, linked := n.reg.ContainerForPosition(j.src); linked {
			n.logger.Printf("warn: sort source %v joined the network; sort dropped", j.src)
			continue
		}
		for budget > 0 && j.next < c.SlotCount() {
			if s := c.Slot(j.next); !s.Empty() {
				res := n.Deposit(s, j.actor)
				c.SetSlot(j.next, res.Remainder)
				budget--
			}
			j.next++
		}
		if j.next < c.SlotCount() {
			keep = append(keep, j)
		}
	}
	for i := len(keep); i < len(n.sortJobs); i++ {
		n.sortJobs[i] = nil
	}
	n.sortJobs = keep
}
