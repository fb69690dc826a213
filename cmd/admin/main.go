package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	persistlog "chestnet.ai/internal/persistence/log"
	"chestnet.ai/internal/persistence/snapshot"
	"chestnet.ai/internal/sim/logic/ids"
	"chestnet.ai/internal/sim/network"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	networkID := fs.String("network", "", "network id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "networks")
	if *networkID != "" {
		base = filepath.Join(base, *networkID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

type snapshotSummary struct {
	Path       string             `json:"path"`
	Header     snapshot.Header    `json:"header"`
	TickRate   int                `json:"tick_rate_hz"`
	SlotCount  int                `json:"slot_count"`
	SlotLimit  int                `json:"slot_limit"`
	Containers int                `json:"containers"`
	Probes     []snapshot.ProbeV1 `json:"probes,omitempty"`
	Items      []itemTotal        `json:"items"`
	Fullness   map[string]float64 `json:"fullness,omitempty"`
}

type itemTotal struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

// inspectCmd prints what a snapshot holds without starting a network.
func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	networkID := fs.String("network", "net_1", "network id")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	headerOnly := fs.Bool("header", false, "print only the header line")
	withProbes := fs.Bool("probes", false, "include probe configs")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		path = latestSnapshot(filepath.Join(*dataDir, "networks", *networkID))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
		os.Exit(2)
	}

	if *headerOnly {
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read header:", err)
			os.Exit(1)
		}
		printJSON(h)
		return
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	sum := summarize(snap)
	sum.Path = path
	if !*withProbes {
		sum.Probes = nil
	}
	printJSON(sum)
}

func summarize(snap snapshot.SnapshotV1) snapshotSummary {
	totals := map[string]int{}
	fullness := map[string]float64{}
	for _, c := range snap.Containers {
		used := 0
		for _, sl := range c.Slots {
			if sl.Item == "" || sl.Count <= 0 {
				continue
			}
			totals[sl.Item] += sl.Count
			used += sl.Count
		}
		if c.Size > 0 && c.Limit > 0 {
			fullness[ids.Block(c.Type, c.Pos[0], c.Pos[1], c.Pos[2])] = float64(used) / float64(c.Size*c.Limit)
		}
	}
	items := make([]itemTotal, 0, len(totals))
	for item, n := range totals {
		items = append(items, itemTotal{Item: item, Count: n})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Item < items[j].Item })

	return snapshotSummary{
		Header:     snap.Header,
		TickRate:   snap.TickRate,
		SlotCount:  snap.SlotCount,
		SlotLimit:  snap.SlotLimit,
		Containers: len(snap.Containers),
		Probes:     snap.Probes,
		Items:      items,
		Fullness:   fullness,
	}
}

type auditFilter struct {
	SinceTick uint64
	ToTick    uint64
	Actor     string
	Action    string
	Item      string
	Probe     *[3]int
}

func (f auditFilter) match(e network.AuditEntry) bool {
	if e.Tick < f.SinceTick {
		return false
	}
	if f.ToTick != 0 && e.Tick > f.ToTick {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Action != "" && !strings.EqualFold(e.Action, f.Action) {
		return false
	}
	if f.Item != "" && e.Item != f.Item {
		return false
	}
	if f.Probe != nil && e.Pos != *f.Probe {
		return false
	}
	return true
}

// auditCmd dumps audit entries from the rotated JSONL logs, oldest first.
func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	networkID := fs.String("network", "net_1", "network id")
	sinceTick := fs.Uint64("since_tick", 0, "first tick (inclusive)")
	toTick := fs.Uint64("to_tick", 0, "last tick (inclusive, optional)")
	actor := fs.String("actor", "", "session id or ADMIN")
	action := fs.String("action", "", "INSERT, EXTRACT, LINK, UNLINK, ...")
	item := fs.String("item", "", "item id")
	probeID := fs.String("probe", "", "probe id, e.g. PROBE@0,1,0")
	_ = fs.Parse(args)

	f := auditFilter{
		SinceTick: *sinceTick,
		ToTick:    *toTick,
		Actor:     strings.TrimSpace(*actor),
		Action:    strings.TrimSpace(*action),
		Item:      strings.TrimSpace(*item),
	}
	if s := strings.TrimSpace(*probeID); s != "" {
		x, y, z, ok := ids.ParseProbe(s)
		if !ok {
			fmt.Fprintf(os.Stderr, "bad probe id %q (want PROBE@x,y,z)\n", s)
			os.Exit(2)
		}
		f.Probe = &[3]int{x, y, z}
	}
	recs, err := readAudit(filepath.Join(*dataDir, "networks", *networkID), f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	for _, e := range recs {
		printJSON(e)
	}
}

func readAudit(networkDir string, f auditFilter) ([]network.AuditEntry, error) {
	dir := filepath.Join(networkDir, "audit")
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
		if strings.HasPrefix(name, "audit-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	// Hour-stamped names sort chronologically.
	sort.Strings(names)

	var out []network.AuditEntry
	for _, name := range names {
		path := filepath.Join(dir, name)
		err := persistlog.ReadFile(path, func(line []byte) error {
			var e network.AuditEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", name, err)
			}
			if f.match(e) {
				out = append(out, e)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func latestSnapshot(networkDir string) string {
	dir := filepath.Join(networkDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
