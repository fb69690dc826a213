package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	persistlog "chestnet.ai/internal/persistence/log"
	"chestnet.ai/internal/persistence/snapshot"
	"chestnet.ai/internal/sim/catalogs"
	"chestnet.ai/internal/sim/network"
	"chestnet.ai/internal/sim/tuning"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst (optional; replays from tick 0 when empty)")
		ticksDir   = flag.String("ticks", "", "dir containing ticks-*.jsonl.zst (optional)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		networkID  = flag.String("network", "net_1", "network id (used only without -snapshot)")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	var snap *snapshot.SnapshotV1
	if *snapPath != "" {
		s, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		stacks := 0
		for _, c := range s.Containers {
			stacks += len(c.Slots)
		}
		fmt.Printf("snapshot v%d network=%s tick=%d probes=%d containers=%d stacks=%d\n",
			s.Header.Version, s.Header.NetworkID, s.Header.Tick, len(s.Probes), len(s.Containers), stacks)
		snap = &s
	}

	if *ticksDir == "" {
		return
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}

	n, err := buildNetwork(*networkID, tune, &cats.Items, snap)
	if err != nil {
		fmt.Fprintln(os.Stderr, "network:", err)
		os.Exit(1)
	}

	files, err := listTickFiles(*ticksDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list ticks:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no tick files found in", *ticksDir)
		os.Exit(1)
	}

	startTick := n.CurrentTick()
	checked, err := replay(n, files, *fromTick, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ticks (from tick=%d)\n", checked, startTick)
}

func buildNetwork(id string, tune tuning.Tuning, items *catalogs.ItemCatalog, snap *snapshot.SnapshotV1) (*network.Network, error) {
	if snap != nil && snap.Header.NetworkID != "" {
		id = snap.Header.NetworkID
	}
	cfg := network.ConfigFromTuning(id, tune)
	// Replay never writes snapshots.
	cfg.SnapshotEveryTicks = 0
	if snap != nil {
		if snap.TickRate > 0 {
			cfg.TickRateHz = snap.TickRate
		}
		if snap.SlotCount > 0 {
			cfg.SlotCount = snap.SlotCount
		}
		if snap.SlotLimit > 0 {
			cfg.SlotLimit = snap.SlotLimit
		}
	}
	n := network.New(cfg, items, nil)
	if snap != nil {
		if err := n.ImportSnapshot(*snap); err != nil {
			return nil, fmt.Errorf("import snapshot: %w", err)
		}
	}
	return n, nil
}

func listTickFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "ticks-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// errDone stops reading once the requested last tick has been replayed.
var errDone = errors.New("done")

// replay re-applies the recorded commands of every logged tick and compares the contents digest.
// Entries older than the network's current tick are skipped.
func replay(n *network.Network, files []string, fromTick, toTick uint64) (checked uint64, err error) {
	startTick := n.CurrentTick()
	verifyFrom := fromTick
	if verifyFrom < startTick {
		verifyFrom = startTick
	}

	for _, path := range files {
		name := filepath.Base(path)
		err := persistlog.ReadFile(path, func(line []byte) error {
			var entry network.TickLogEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", name, err)
			}
			if entry.Tick < startTick {
				return nil
			}
			if toTick != 0 && entry.Tick > toTick {
				return errDone
			}
			if entry.Tick != n.CurrentTick() {
				return fmt.Errorf("tick mismatch: want=%d got=%d (file=%s)", n.CurrentTick(), entry.Tick, name)
			}

			cmds := make([]network.Command, 0, len(entry.Commands))
			for _, rc := range entry.Commands {
				cmds = append(cmds, network.Command{Session: rc.Session, Act: rc.Act})
			}
			tick, gotDigest := n.StepOnce(cmds)
			if tick != entry.Tick {
				return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d (file=%s)", tick, entry.Tick, name)
			}
			if tick >= verifyFrom {
				checked++
				if gotDigest != entry.Digest {
					return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, gotDigest, entry.Digest)
				}
			}
			return nil
		})
		if err == errDone {
			return checked, nil
		}
		if err != nil {
			return checked, err
		}
	}
	return checked, nil
}
