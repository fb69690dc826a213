package probe

import (
	"strings"

	"chestnet.ai/internal/sim/kernel/model"
)

// Classifier answers category membership for item kinds (the item catalog).
type Classifier interface {
	HasCategory(item, category string) bool
}

// Holder is the read side of a container's slots.
type Holder interface {
	SlotCount() int
	Slot(i int) model.Stack
}

// Filter decides whether a container accepts an item kind. It is resolved once per
// mode/category change, never per call.
type Filter interface {
	Accepts(item string, h Holder) bool
}

type acceptAll struct{}

func (acceptAll) Accepts(item string, _ Holder) bool { return item != "" }

type acceptNone struct{}

func (acceptNone) Accepts(string, Holder) bool { return false }

type categoryFilter struct {
	cls      Classifier
	category string
}

func (f categoryFilter) Accepts(item string, _ Holder) bool {
	return item != "" && f.cls.HasCategory(item, f.category)
}

type blacklistFilter struct {
	cls      Classifier
	category string
}

func (f blacklistFilter) Accepts(item string, _ Holder) bool {
	return item != "" && !f.cls.HasCategory(item, f.category)
}

// customFilter accepts only kinds the container already holds.
type customFilter struct{}

func (customFilter) Accepts(item string, h Holder) bool {
	if item == "" || h == nil {
		return false
	}
	n := h.SlotCount()
	for i := 0; i < n; i++ {
		s := h.Slot(i)
		if s.Item == item && s.Count > 0 {
			return true
		}
	}
	return false
}

// NewFilter resolves the acceptance policy for mode. A mode that needs a category but has
// none (or has no classifier to test it) accepts nothing.
func NewFilter(mode FilterMode, category string, cls Classifier) Filter {
	if mode.NeedsCategory() && (strings.TrimSpace(category) == "" || cls == nil) {
		return acceptNone{}
	}
	switch mode {
	case General, Priority, Overflow:
		return acceptAll{}
	case Category, CategoryAndPriority:
		return categoryFilter{cls: cls, category: category}
	case Blacklist:
		return blacklistFilter{cls: cls, category: category}
	case Custom:
		return customFilter{}
	default:
		return acceptNone{}
	}
}
