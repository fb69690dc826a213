package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`

	// Cache lifetimes, in ticks.
	SortedViewTTLTicks int `yaml:"sorted_view_ttl_ticks"`
	OccupancyTTLTicks  int `yaml:"occupancy_ttl_ticks"`

	// Maintenance cadences, in ticks.
	ValidateEveryTicks int `yaml:"validate_every_ticks"`
	RefreshEveryTicks  int `yaml:"refresh_every_ticks"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	DefaultSlotCount int `yaml:"default_slot_count"`
	DefaultSlotLimit int `yaml:"default_slot_limit"`

	MaxCommandsPerTick int `yaml:"max_commands_per_tick"`
	SortSlotsPerTick   int `yaml:"sort_slots_per_tick"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         20,
		SortedViewTTLTicks: 100,
		OccupancyTTLTicks:  20,
		ValidateEveryTicks: 200,
		RefreshEveryTicks:  20,
		SnapshotEveryTicks: 6000,
		DefaultSlotCount:   27,
		DefaultSlotLimit:   64,
		MaxCommandsPerTick: 256,
		SortSlotsPerTick:   27,
	}
}

// Load reads tuning.yaml on top of Defaults; keys missing from the file keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	positive := []struct {
		name string
		v    int
	}{
		{"tick_rate_hz", t.TickRateHz},
		{"sorted_view_ttl_ticks", t.SortedViewTTLTicks},
		{"occupancy_ttl_ticks", t.OccupancyTTLTicks},
		{"validate_every_ticks", t.ValidateEveryTicks},
		{"refresh_every_ticks", t.RefreshEveryTicks},
		{"default_slot_count", t.DefaultSlotCount},
		{"default_slot_limit", t.DefaultSlotLimit},
		{"max_commands_per_tick", t.MaxCommandsPerTick},
		{"sort_slots_per_tick", t.SortSlotsPerTick},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%s must be > 0 (got %d)", p.name, p.v)
		}
	}
	if t.SnapshotEveryTicks < 0 {
		return fmt.Errorf("snapshot_every_ticks must be >= 0 (got %d)", t.SnapshotEveryTicks)
	}
	return nil
}
