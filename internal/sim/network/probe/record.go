package probe

import "chestnet.ai/internal/sim/kernel/model"

// Record is the persisted form of a Config. It is a plain value: producing or consuming one
// never shares state with a live Config.
type Record struct {
	Pos      model.Vec3i
	Name     string
	Mode     string
	Category string
	Priority int
	Tier     string
}

func (c *Config) ToRecord() Record {
	return Record{
		Pos:      c.pos,
		Name:     c.name,
		Mode:     c.mode.String(),
		Category: c.category,
		Priority: c.priority,
		Tier:     c.tier.String(),
	}
}

// FromRecord rebuilds a Config. Unknown modes load as General and unknown tiers as Medium.
// The saved priority is kept as is; the priority assigner validates the whole set after load.
func FromRecord(r Record, cls Classifier) *Config {
	c := NewConfig(r.Pos, cls)
	c.SetName(r.Name)
	mode, _ := ParseFilterMode(r.Mode)
	tier, _ := ParseTier(r.Tier)
	c.tier = tier
	c.SetFilter(mode, r.Category)
	c.SetPriority(r.Priority)
	return c
}
