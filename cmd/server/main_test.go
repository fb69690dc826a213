package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chestnet.ai/internal/sim/network"
)

func TestLatestSnapshotPicksHighestTick(t *testing.T) {
	dir := t.TempDir()
	snaps := filepath.Join(dir, "snapshots")
	if err := os.MkdirAll(snaps, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"90.snap.zst", "1200.snap.zst", "300.snap.zst", "notes.txt", "x.snap.zst"} {
		if err := os.WriteFile(filepath.Join(snaps, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	got := latestSnapshot(dir)
	if filepath.Base(got) != "1200.snap.zst" {
		t.Fatalf("latestSnapshot=%q", got)
	}
	if latestSnapshot(filepath.Join(dir, "missing")) != "" {
		t.Fatalf("expected empty path for missing dir")
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("CN_TEST_FLAG", "off")
	if envBool("CN_TEST_FLAG", true) {
		t.Fatalf("off should be false")
	}
	t.Setenv("CN_TEST_FLAG", "")
	if !envBool("CN_TEST_FLAG", true) {
		t.Fatalf("empty should keep default")
	}
}

func TestWriteMetricsWithoutIndex(t *testing.T) {
	n := network.New(network.Config{ID: "net_m"}, nil, nil)
	var b strings.Builder
	writeMetrics(&b, "net_m", n, nil)
	out := b.String()
	for _, want := range []string{`chestnet_tick{network="net_m"} 0`, `chestnet_members{network="net_m"} 0`, `queue="inbox"`, `chestnet_aggregate_age_ticks{network="net_m"} 0`} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "chestnet_index_") {
		t.Fatalf("index metrics without index:\n%s", out)
	}
}
