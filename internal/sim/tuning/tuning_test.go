package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOverridesDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := "tick_rate_hz: 10\nsorted_view_ttl_ticks: 50\n"
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tune, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tune.TickRateHz != 10 || tune.SortedViewTTLTicks != 50 {
		t.Fatalf("overrides not applied: %+v", tune)
	}
	if tune.OccupancyTTLTicks != Defaults().OccupancyTTLTicks {
		t.Fatalf("missing key should keep default, got %d", tune.OccupancyTTLTicks)
	}
}

func TestLoadRejectsNonPositive(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte("refresh_every_ticks: 0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(p)
	if err == nil || !strings.Contains(err.Error(), "refresh_every_ticks") {
		t.Fatalf("expected refresh_every_ticks error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
