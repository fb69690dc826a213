package probe

import "strings"

// FilterMode is the acceptance policy of a linked container.
type FilterMode uint8

const (
	General FilterMode = iota
	Category
	Priority
	CategoryAndPriority
	Overflow
	Blacklist
	Custom
)

var modeNames = [...]string{
	General:             "GENERAL",
	Category:            "CATEGORY",
	Priority:            "PRIORITY",
	CategoryAndPriority: "CATEGORY_AND_PRIORITY",
	Overflow:            "OVERFLOW",
	Blacklist:           "BLACKLIST",
	Custom:              "CUSTOM",
}

func (m FilterMode) Valid() bool { return int(m) < len(modeNames) }

func (m FilterMode) String() string {
	if !m.Valid() {
		return "UNKNOWN"
	}
	return modeNames[m]
}

func ParseFilterMode(s string) (FilterMode, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, n := range modeNames {
		if n == s {
			return FilterMode(i), true
		}
	}
	return General, false
}

// Rank is the final tie-break key of the sorted view.
func (m FilterMode) Rank() int { return int(m) }

// BasePriority offsets the hidden priority so Custom containers are consulted before every
// numbered container and Overflow containers after them.
func (m FilterMode) BasePriority() int {
	switch m {
	case Custom:
		return 3_000_000
	case Overflow:
		return 1_000_000
	default:
		return 2_000_000
	}
}

// Filtered reports whether the mode takes part in the first (filtered) insertion phase.
func (m FilterMode) Filtered() bool { return m != General && m != Overflow }

func (m FilterMode) NeedsCategory() bool {
	switch m {
	case Category, CategoryAndPriority, Blacklist:
		return true
	}
	return false
}

// Tier is the coarse priority bucket; it dominates the numeric priority.
type Tier uint8

const (
	Highest Tier = iota
	High
	Medium
	Low
	Lowest
)

var tierNames = [...]string{
	Highest: "HIGHEST",
	High:    "HIGH",
	Medium:  "MEDIUM",
	Low:     "LOW",
	Lowest:  "LOWEST",
}

func (t Tier) Valid() bool { return int(t) < len(tierNames) }

func (t Tier) String() string {
	if !t.Valid() {
		return "UNKNOWN"
	}
	return tierNames[t]
}

func ParseTier(s string) (Tier, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, n := range tierNames {
		if n == s {
			return Tier(i), true
		}
	}
	return Medium, false
}

// Rank orders tiers; lower is served earlier.
func (t Tier) Rank() int { return int(t) }
