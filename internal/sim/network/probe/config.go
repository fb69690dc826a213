package probe

import (
	"strings"

	"chestnet.ai/internal/sim/kernel/model"
)

// Config is the per-container network configuration. The registry owns the live value;
// everything else gets a Clone or a Record.
type Config struct {
	pos      model.Vec3i
	name     string
	mode     FilterMode
	category string
	priority int
	tier     Tier

	hidden   int
	fullness float64

	cls    Classifier
	filter Filter
}

func NewConfig(pos model.Vec3i, cls Classifier) *Config {
	c := &Config{
		pos:  pos,
		mode: General,
		tier: Medium,
		cls:  cls,
	}
	c.filter = NewFilter(c.mode, c.category, cls)
	c.rehide()
	return c
}

func (c *Config) Pos() model.Vec3i  { return c.pos }
func (c *Config) Name() string      { return c.name }
func (c *Config) Mode() FilterMode  { return c.mode }
func (c *Config) Category() string  { return c.category }
func (c *Config) Priority() int     { return c.priority }
func (c *Config) Tier() Tier        { return c.tier }
func (c *Config) Hidden() int       { return c.hidden }
func (c *Config) Fullness() float64 { return c.fullness }
func (c *Config) IsCustom() bool    { return c.mode == Custom }
func (c *Config) Filter() Filter    { return c.filter }

func (c *Config) Accepts(item string, h Holder) bool { return c.filter.Accepts(item, h) }

func (c *Config) SetName(name string) { c.name = strings.TrimSpace(name) }

// SetFilter changes the acceptance policy. Overflow pins the tier to Lowest; Custom pins the
// tier to Highest and the priority to the 0 sentinel.
func (c *Config) SetFilter(mode FilterMode, category string) {
	if !mode.Valid() {
		mode = General
	}
	c.mode = mode
	c.category = strings.TrimSpace(category)
	c.filter = NewFilter(c.mode, c.category, c.cls)
	c.pinTier()
	if c.mode == Custom {
		c.priority = 0
	}
	c.rehide()
}

// SetTier reports whether the effective tier changed.
func (c *Config) SetTier(t Tier) bool {
	if !t.Valid() {
		t = Medium
	}
	before := c.tier
	c.tier = t
	c.pinTier()
	return c.tier != before
}

func (c *Config) SetPriority(p int) {
	if c.mode == Custom || p < 0 {
		p = 0
	}
	c.priority = p
	c.rehide()
}

func (c *Config) SetFullness(f float64) {
	switch {
	case f < 0:
		f = 0
	case f > 1:
		f = 1
	}
	c.fullness = f
}

// Clone returns a detached copy; mutating it never touches the registry's value.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

func (c *Config) pinTier() {
	switch c.mode {
	case Overflow:
		c.tier = Lowest
	case Custom:
		c.tier = Highest
	}
}

func (c *Config) rehide() { c.hidden = c.mode.BasePriority() - c.priority }
