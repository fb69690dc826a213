package network

import (
	"chestnet.ai/internal/protocol"
	"chestnet.ai/internal/sim/tuning"
)

type Config struct {
	ID         string
	TickRateHz int

	SortedViewTTLTicks int
	OccupancyTTLTicks  int
	ValidateEveryTicks int
	RefreshEveryTicks  int
	SnapshotEveryTicks int

	SlotCount int
	SlotLimit int

	MaxCommandsPerTick int
	SortSlotsPerTick   int
}

func ConfigFromTuning(id string, t tuning.Tuning) Config {
	return Config{
		ID:                 id,
		TickRateHz:         t.TickRateHz,
		SortedViewTTLTicks: t.SortedViewTTLTicks,
		OccupancyTTLTicks:  t.OccupancyTTLTicks,
		ValidateEveryTicks: t.ValidateEveryTicks,
		RefreshEveryTicks:  t.RefreshEveryTicks,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		SlotCount:          t.DefaultSlotCount,
		SlotLimit:          t.DefaultSlotLimit,
		MaxCommandsPerTick: t.MaxCommandsPerTick,
		SortSlotsPerTick:   t.SortSlotsPerTick,
	}
}

func (c *Config) applyDefaults() {
	d := ConfigFromTuning(c.ID, tuning.Defaults())
	if c.ID == "" {
		c.ID = "net_1"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = d.TickRateHz
	}
	if c.SortedViewTTLTicks <= 0 {
		c.SortedViewTTLTicks = d.SortedViewTTLTicks
	}
	if c.OccupancyTTLTicks <= 0 {
		c.OccupancyTTLTicks = d.OccupancyTTLTicks
	}
	if c.ValidateEveryTicks <= 0 {
		c.ValidateEveryTicks = d.ValidateEveryTicks
	}
	if c.RefreshEveryTicks <= 0 {
		c.RefreshEveryTicks = d.RefreshEveryTicks
	}
	if c.SnapshotEveryTicks < 0 {
		c.SnapshotEveryTicks = 0
	}
	if c.SlotCount <= 0 {
		c.SlotCount = d.SlotCount
	}
	if c.SlotLimit <= 0 {
		c.SlotLimit = d.SlotLimit
	}
	if c.MaxCommandsPerTick <= 0 {
		c.MaxCommandsPerTick = d.MaxCommandsPerTick
	}
	if c.SortSlotsPerTick <= 0 {
		c.SortSlotsPerTick = d.SortSlotsPerTick
	}
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type TickLogEntry struct {
	Tick      uint64            `json:"tick"`
	Commands  []RecordedCommand `json:"commands,omitempty"`
	Dropped   [][3]int          `json:"dropped,omitempty"`
	Refreshed bool              `json:"refreshed,omitempty"`
	Kinds     int               `json:"kinds"`
	Members   int               `json:"members"`
	Digest    string            `json:"digest"`
}

type RecordedCommand struct {
	Session string          `json:"session,omitempty"`
	Act     protocol.ActMsg `json:"act"`
	OK      bool            `json:"ok"`
	Code    string          `json:"code,omitempty"`
}

type AuditEntry struct {
	Tick       uint64 `json:"tick"`
	Actor      string `json:"actor"`
	Action     string `json:"action"` // e.g. "INSERT"
	Pos        [3]int `json:"pos"`
	Item       string `json:"item,omitempty"`
	Count      int    `json:"count,omitempty"`
	Remainder  int    `json:"remainder,omitempty"`
	Overflowed bool   `json:"overflowed,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Audit actions.
const (
	AuditInsert      = "INSERT"
	AuditExtract     = "EXTRACT"
	AuditLink        = "LINK"
	AuditUnlink      = "UNLINK"
	AuditConfigure   = "CONFIGURE"
	AuditSetPriority = "SET_PRIORITY"
	AuditRepair      = "REPAIR_PRIORITY"
)

type Metrics struct {
	Tick        uint64  `json:"tick"`
	Members     int     `json:"members"`
	Kinds       int     `json:"kinds"`
	Subscribers int     `json:"subscribers"`
	Commands    int     `json:"commands"`
	InboxDepth  int     `json:"inbox_depth"`
	SortJobs    int     `json:"sort_jobs"`
	StepMS      float64 `json:"step_ms"`

	ChangedKinds int    `json:"changed_kinds"`     // item kinds in this tick's delta
	LastRefresh  uint64 `json:"last_refresh_tick"` // tick of the last full aggregate rescan
}
