package probe

import "chestnet.ai/internal/sim/kernel/model"

// Handle is a live reference to the container a probe targets.
// Handles can go stale: callers must check Removed before every use.
type Handle interface {
	Holder
	Position() model.Vec3i
	Removed() bool
	SetSlot(i int, s model.Stack)
	SlotLimit() int
}

// Resolver maps a probe position to the container it targets.
type Resolver interface {
	Resolve(probe model.Vec3i) (Handle, bool)
}

// Live reports whether h can still be used.
func Live(h Handle) bool { return h != nil && !h.Removed() }
