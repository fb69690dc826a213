package network

import (
	"encoding/json"
	"testing"

	"chestnet.ai/internal/protocol"
	"chestnet.ai/internal/sim/catalogs"
	"chestnet.ai/internal/sim/kernel/model"
	"chestnet.ai/internal/sim/network/priority"
	"chestnet.ai/internal/sim/network/probe"
)

func testNetwork(t *testing.T, cfg Config) *Network {
	t.Helper()
	cat, err := catalogs.NewItemCatalog([]catalogs.ItemDef{
		{ID: "IRON_ORE", Kind: "MATERIAL", Categories: []string{"ore"}},
		{ID: "COAL", Kind: "MATERIAL", Categories: []string{"fuel"}},
		{ID: "COBBLE", Kind: "BLOCK", Categories: []string{"stone"}},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if cfg.SlotCount == 0 {
		cfg.SlotCount = 2
	}
	return New(cfg, &cat, nil)
}

func probeAt(x int) model.Vec3i { return model.Vec3i{X: x, Y: 1} }
func chestAt(x int) model.Vec3i { return model.Vec3i{X: x} }

func ptr(v model.Vec3i) *[3]int {
	a := v.ToArray()
	return &a
}

func str(s string) *string { return &s }
func num(v int) *int       { return &v }

func linkAct(x int) protocol.ActMsg {
	return protocol.ActMsg{Type: protocol.TypeAct, ID: "link", Action: protocol.ActLink, Pos: ptr(probeAt(x)), Target: ptr(chestAt(x))}
}

func depositAct(item string, count int) protocol.ActMsg {
	return protocol.ActMsg{Type: protocol.TypeAct, ID: "dep", Action: protocol.ActDeposit, Stack: &protocol.ItemStack{Item: item, Count: count}}
}

// step runs one tick with acts and returns their results in submission order.
func step(t *testing.T, n *Network, acts ...protocol.ActMsg) []protocol.ActResultMsg {
	t.Helper()
	cmds := make([]Command, len(acts))
	for i, a := range acts {
		cmds[i] = Command{Session: "s1", Act: a, Resp: make(chan protocol.ActResultMsg, 1)}
	}
	n.StepOnce(cmds)
	out := make([]protocol.ActResultMsg, len(cmds))
	for i, c := range cmds {
		select {
		case out[i] = <-c.Resp:
		default:
			t.Fatalf("no result for act %d (%s)", i, acts[i].Action)
		}
	}
	return out
}

func TestLinkDepositWithdraw(t *testing.T) {
	n := testNetwork(t, Config{})
	for x := 1; x <= 3; x++ {
		if err := n.Link(probeAt(x), chestAt(x), "test"); err != nil {
			t.Fatalf("link %d: %v", x, err)
		}
	}
	if err := n.SetFilter(probeAt(3), probe.Category, "ore"); err != nil {
		t.Fatalf("set filter: %v", err)
	}
	if err := n.SetTier(probeAt(3), probe.Highest); err != nil {
		t.Fatalf("set tier: %v", err)
	}

	res := n.Deposit(model.Stack{Item: "IRON_ORE", Count: 10}, "test")
	if res.Placed != 10 || res.Destination != probeAt(3) {
		t.Fatalf("ore should land in the ore chest: %+v", res)
	}
	got := n.Withdraw("IRON_ORE", 4, "test")
	if got.Count != 4 {
		t.Fatalf("withdraw: got %+v", got)
	}
	if c := n.Contents().Count("IRON_ORE"); c != 6 {
		t.Fatalf("contents: want 6 got %d", c)
	}
	if err := priority.Check(n.reg.Configs()); err != nil {
		t.Fatalf("priorities: %v", err)
	}
}

func TestLinkErrors(t *testing.T) {
	n := testNetwork(t, Config{})
	if err := n.Link(probeAt(1), chestAt(1), "test"); err != nil {
		t.Fatalf("link: %v", err)
	}
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"relink", n.Link(probeAt(1), chestAt(5), "test"), protocol.ErrConflict},
		{"shared container", n.Link(probeAt(2), chestAt(1), "test"), protocol.ErrConflict},
		{"self target", n.Link(probeAt(3), probeAt(3), "test"), protocol.ErrBadRequest},
		{"unlink unknown", n.Unlink(probeAt(9), "test"), protocol.ErrInvalidTarget},
	}
	for _, tc := range cases {
		if tc.err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if got := ErrorCode(tc.err); got != tc.code {
			t.Fatalf("%s: code=%s want %s (%v)", tc.name, got, tc.code, tc.err)
		}
	}
	if n.reg.Len() != 1 {
		t.Fatalf("failed links must not change membership, len=%d", n.reg.Len())
	}
}

func TestStructuralCommandsRunBeforeRouting(t *testing.T) {
	n := testNetwork(t, Config{})
	// The deposit is received first but the link in the same tick is applied before it.
	res := step(t, n, depositAct("COAL", 5), linkAct(1))
	if !res[0].OK || res[0].Moved != 5 {
		t.Fatalf("deposit should see the new member: %+v", res[0])
	}
	if !res[1].OK {
		t.Fatalf("link failed: %+v", res[1])
	}
	if res[0].Destination == nil || *res[0].Destination != probeAt(1).ToArray() {
		t.Fatalf("destination: %+v", res[0].Destination)
	}
}

func TestActResultCodes(t *testing.T) {
	n := testNetwork(t, Config{SlotCount: 1})
	step(t, n, linkAct(1))

	res := step(t, n,
		depositAct("UNOBTAINIUM", 1),
		depositAct("COAL", 0),
		protocol.ActMsg{ID: "w", Action: protocol.ActWithdraw, Item: "COBBLE", Count: 3},
		protocol.ActMsg{ID: "x", Action: "DANCE"},
		protocol.ActMsg{ID: "c", Action: protocol.ActConfigure, Pos: ptr(probeAt(1)), Config: &protocol.ConfigEdit{Mode: str("SIDEWAYS")}},
		protocol.ActMsg{ID: "p", Action: protocol.ActSetPriority, Pos: ptr(probeAt(7)), Priority: num(1)},
	)
	want := []string{
		protocol.ErrBadRequest,
		protocol.ErrBadRequest,
		protocol.ErrNoResource,
		protocol.ErrBadRequest,
		protocol.ErrBadRequest,
		protocol.ErrInvalidTarget,
	}
	// Results come back in submission order; structural ones were applied first.
	for i, r := range res {
		if r.OK || r.Code != want[i] {
			t.Fatalf("act %d: got ok=%v code=%s want %s", i, r.OK, r.Code, want[i])
		}
		if !protocol.IsKnownCode(r.Code) {
			t.Fatalf("act %d: unknown code %s", i, r.Code)
		}
	}

	res = step(t, n, depositAct("COAL", 100))
	if !res[0].OK || res[0].Moved != 64 || res[0].Remainder == nil || res[0].Remainder.Count != 36 {
		t.Fatalf("partial deposit: %+v", res[0])
	}
	res = step(t, n, depositAct("COAL", 1))
	if res[0].OK || res[0].Code != protocol.ErrNoSpace {
		t.Fatalf("full network should report no space: %+v", res[0])
	}
}

func TestOverflowReportedInActResult(t *testing.T) {
	n := testNetwork(t, Config{SlotCount: 1})
	step(t, n, linkAct(1), linkAct(2))
	res := step(t, n,
		protocol.ActMsg{ID: "c1", Action: protocol.ActConfigure, Pos: ptr(probeAt(1)), Config: &protocol.ConfigEdit{Mode: str("category"), Category: str("ore"), Tier: str("HIGHEST")}},
		protocol.ActMsg{ID: "c2", Action: protocol.ActConfigure, Pos: ptr(probeAt(2)), Config: &protocol.ConfigEdit{Mode: str("OVERFLOW"), Name: str("spill")}},
		depositAct("IRON_ORE", 64),
		depositAct("IRON_ORE", 5),
	)
	if !res[2].OK || res[2].Overflowed || *res[2].Destination != probeAt(1).ToArray() {
		t.Fatalf("first stack fits the ore chest: %+v", res[2])
	}
	if !res[3].OK || !res[3].Overflowed || res[3].DestinationName != "spill" {
		t.Fatalf("second stack should overflow: %+v", res[3])
	}
}

func TestManualPriorityCommand(t *testing.T) {
	n := testNetwork(t, Config{})
	for x := 1; x <= 5; x++ {
		step(t, n, linkAct(x))
	}
	res := step(t, n, protocol.ActMsg{ID: "p", Action: protocol.ActSetPriority, Pos: ptr(probeAt(4)), Priority: num(1)})
	if !res[0].OK {
		t.Fatalf("set priority: %+v", res[0])
	}
	want := map[model.Vec3i]int{probeAt(4): 1, probeAt(1): 2, probeAt(2): 3, probeAt(3): 4, probeAt(5): 5}
	for _, c := range n.Configs() {
		if c.Priority() != want[c.Pos()] {
			t.Fatalf("%v: priority %d want %d", c.Pos(), c.Priority(), want[c.Pos()])
		}
	}

	// Out of range targets clamp to the ends of the order.
	res = step(t, n,
		protocol.ActMsg{ID: "zero", Action: protocol.ActSetPriority, Pos: ptr(probeAt(3)), Priority: num(0)},
		protocol.ActMsg{ID: "none", Action: protocol.ActSetPriority, Pos: ptr(probeAt(2))},
	)
	if !res[0].OK {
		t.Fatalf("priority 0 should clamp to 1: %+v", res[0])
	}
	if res[1].OK || res[1].Code != protocol.ErrBadRequest {
		t.Fatalf("missing priority: %+v", res[1])
	}
	if err := n.SetManualPriority(probeAt(4), 99); err != nil {
		t.Fatalf("priority 99: %v", err)
	}
	want = map[model.Vec3i]int{probeAt(3): 1, probeAt(1): 2, probeAt(2): 3, probeAt(5): 4, probeAt(4): 5}
	for _, c := range n.Configs() {
		if c.Priority() != want[c.Pos()] {
			t.Fatalf("after clamping %v: priority %d want %d", c.Pos(), c.Priority(), want[c.Pos()])
		}
	}

	if err := n.SetFilter(probeAt(5), probe.Custom, ""); err != nil {
		t.Fatalf("custom: %v", err)
	}
	if err := n.SetManualPriority(probeAt(5), 1); ErrorCode(err) != protocol.ErrConflict {
		t.Fatalf("custom containers cannot take a manual priority, err=%v", err)
	}
}

func TestConfigsAreCopies(t *testing.T) {
	n := testNetwork(t, Config{})
	step(t, n, linkAct(1))
	cfgs := n.Configs()
	cfgs[0].SetName("mutated")
	if live, _ := n.reg.Config(probeAt(1)); live.Name() == "mutated" {
		t.Fatalf("Configs must return detached copies")
	}
}

func TestMaintenanceDropsBrokenContainers(t *testing.T) {
	n := testNetwork(t, Config{ValidateEveryTicks: 1})
	step(t, n, linkAct(1), linkAct(2), linkAct(3))
	n.Store().BreakContainer(chestAt(2))

	step(t, n)
	if n.reg.Len() != 2 || n.reg.Has(probeAt(2)) {
		t.Fatalf("broken container should be dropped, members=%v", n.reg.Members())
	}
	if err := priority.Check(n.reg.Configs()); err != nil {
		t.Fatalf("priorities after drop: %v", err)
	}
}

func TestProbesDescribeContainers(t *testing.T) {
	n := testNetwork(t, Config{})
	step(t, n, linkAct(1), depositAct("COAL", 7), depositAct("IRON_ORE", 2))

	obs := n.Probes()
	if len(obs) != 1 {
		t.Fatalf("probes: %+v", obs)
	}
	p := obs[0]
	if p.ID != "PROBE@1,1,0" || p.Container != "CHEST@1,0,0" {
		t.Fatalf("ids: %+v", p)
	}
	want := []protocol.ItemStack{{Item: "COAL", Count: 7}, {Item: "IRON_ORE", Count: 2}}
	if len(p.Items) != 2 || p.Items[0] != want[0] || p.Items[1] != want[1] {
		t.Fatalf("items: %+v", p.Items)
	}
}

func TestMetricsTrackDeltasAndRefresh(t *testing.T) {
	n := testNetwork(t, Config{RefreshEveryTicks: 20})
	step(t, n, linkAct(1))
	step(t, n, depositAct("COAL", 7), depositAct("IRON_ORE", 2))
	if m := n.Metrics(); m.ChangedKinds != 2 || m.LastRefresh != 1 || m.Tick != 2 {
		t.Fatalf("after deposit: %+v", m)
	}
	step(t, n)
	if m := n.Metrics(); m.ChangedKinds != 0 || m.LastRefresh != 1 {
		t.Fatalf("idle tick: %+v", m)
	}
}

func TestRelinkAfterBreakCountsContainerOnce(t *testing.T) {
	n := testNetwork(t, Config{ValidateEveryTicks: 1})
	if err := n.Link(probeAt(1), chestAt(1), "test"); err != nil {
		t.Fatalf("link: %v", err)
	}
	n.Store().BreakContainer(chestAt(1))

	// A new probe may claim the spot; the old one must not follow it to the new chest.
	if err := n.Link(probeAt(2), chestAt(1), "test"); err != nil {
		t.Fatalf("relink: %v", err)
	}
	if res := n.Deposit(model.Stack{Item: "COAL", Count: 10}, "test"); res.Placed != 10 || res.Destination != probeAt(2) {
		t.Fatalf("deposit: %+v", res)
	}
	if c := n.Contents().Count("COAL"); c != 10 {
		t.Fatalf("COAL counted %d times over, want 10", c)
	}
	if _, ok := n.reg.Handle(probeAt(1)); ok {
		t.Fatalf("old probe must stay unresolved")
	}
	if snap := n.ExportSnapshot(0); len(snap.Probes) != 1 || snap.Probes[0].Pos != probeAt(2).ToArray() {
		t.Fatalf("snapshot must not carry the detached probe: %+v", snap.Probes)
	}

	step(t, n)
	if n.reg.Len() != 1 || !n.reg.Has(probeAt(2)) {
		t.Fatalf("old probe should be dropped, members=%v", n.reg.Members())
	}
	if err := n.Link(probeAt(1), chestAt(1), "test"); ErrorCode(err) != protocol.ErrConflict {
		t.Fatalf("container already linked by the new probe, err=%v", err)
	}
}

func TestLinkDetachesStrayProbeOnTarget(t *testing.T) {
	n := testNetwork(t, Config{})
	// Probe block left in the world without ever joining the network.
	n.Store().EnsureChest(chestAt(1))
	n.Store().AttachProbe(probeAt(9), chestAt(1))

	if err := n.Link(probeAt(1), chestAt(1), "test"); err != nil {
		t.Fatalf("link: %v", err)
	}
	if _, ok := n.Store().ProbeTarget(probeAt(9)); ok {
		t.Fatalf("stray probe should be detached")
	}
}

func TestImportRecordsRepairsPriorities(t *testing.T) {
	n := testNetwork(t, Config{})
	repaired := n.ImportRecords([]probe.Record{
		{Pos: probeAt(1), Mode: "GENERAL", Priority: 1, Tier: "MEDIUM"},
		{Pos: probeAt(2), Mode: "GENERAL", Priority: 1, Tier: "MEDIUM"},
		{Pos: probeAt(3), Mode: "GENERAL", Priority: 9, Tier: "MEDIUM"},
		{Pos: probeAt(4), Mode: "CUSTOM", Priority: 4, Tier: "LOW"},
		{Pos: probeAt(1), Mode: "OVERFLOW", Priority: 2, Tier: "LOWEST"},
	})
	if len(repaired) == 0 {
		t.Fatalf("duplicate and out-of-range priorities must be repaired")
	}
	if n.reg.Len() != 4 {
		t.Fatalf("duplicate record should be ignored, len=%d", n.reg.Len())
	}
	if err := priority.Check(n.reg.Configs()); err != nil {
		t.Fatalf("after import: %v", err)
	}
	if c, _ := n.reg.Config(probeAt(4)); c.Priority() != 0 || c.Tier() != probe.Highest {
		t.Fatalf("custom record: priority=%d tier=%s", c.Priority(), c.Tier())
	}
}

func TestDepositAllSpreadsOverTicks(t *testing.T) {
	n := testNetwork(t, Config{SlotCount: 4, SortSlotsPerTick: 2})
	step(t, n, linkAct(1), linkAct(2))

	src := n.Store().EnsureChest(model.Vec3i{X: 10})
	src.SetSlot(0, model.Stack{Item: "COAL", Count: 10})
	src.SetSlot(1, model.Stack{Item: "COBBLE", Count: 64})
	src.SetSlot(2, model.Stack{Item: "IRON_ORE", Count: 3})
	src.SetSlot(3, model.Stack{Item: "COAL", Count: 5})

	res := step(t, n, protocol.ActMsg{ID: "s", Action: protocol.ActSort, Pos: ptr(model.Vec3i{X: 10})})
	if !res[0].OK {
		t.Fatalf("sort: %+v", res[0])
	}
	if src.Occupied() != 2 {
		t.Fatalf("first tick should move two stacks, %d left", src.Occupied())
	}
	step(t, n)
	if src.Occupied() != 0 {
		t.Fatalf("second tick should finish, %d left", src.Occupied())
	}
	snap := n.Contents()
	if snap.Count("COAL") != 15 || snap.Count("COBBLE") != 64 || snap.Count("IRON_ORE") != 3 {
		t.Fatalf("contents after sort: %v", snap.Map())
	}
	if len(n.sortJobs) != 0 {
		t.Fatalf("finished job should be removed")
	}

	res = step(t, n, protocol.ActMsg{ID: "s2", Action: protocol.ActSort, Pos: ptr(chestAt(1))})
	if res[0].OK || res[0].Code != protocol.ErrConflict {
		t.Fatalf("sorting a member container is a conflict: %+v", res[0])
	}
}

func TestSubscribersGetDeltasAndResync(t *testing.T) {
	n := testNetwork(t, Config{})
	step(t, n, linkAct(1))

	out := make(chan []byte, 1)
	resp := make(chan Subscription, 1)
	n.handleSubscribe(subscribeReq{ID: "sess", Out: out, Deltas: true, Resp: resp})
	sub := <-resp
	if sub.Welcome.SessionID != "sess" || sub.Welcome.NetworkID != "net_1" || sub.Welcome.ItemsDigest == "" {
		t.Fatalf("welcome: %+v", sub.Welcome)
	}
	if len(sub.Contents.Items) != 0 || len(sub.Contents.Probes) != 1 {
		t.Fatalf("initial contents: %+v", sub.Contents)
	}

	step(t, n, depositAct("COAL", 7))
	var delta protocol.DeltaMsg
	if err := json.Unmarshal(<-out, &delta); err != nil {
		t.Fatalf("decode delta: %v", err)
	}
	if delta.Type != protocol.TypeDelta || len(delta.Changes) != 1 || delta.Changes[0] != (protocol.ItemStack{Item: "COAL", Count: 7}) {
		t.Fatalf("delta: %+v", delta)
	}

	// Withdrawing everything reports the kind with count 0 so clients drop it.
	step(t, n, protocol.ActMsg{ID: "w", Action: protocol.ActWithdraw, Item: "COAL", Count: 7})
	if err := json.Unmarshal(<-out, &delta); err != nil {
		t.Fatalf("decode delta: %v", err)
	}
	if len(delta.Changes) != 1 || delta.Changes[0].Count != 0 {
		t.Fatalf("removal delta: %+v", delta)
	}

	// A full queue loses the delta; the next free slot gets a full CONTENTS.
	out <- []byte("stale")
	step(t, n, depositAct("COBBLE", 2))
	<-out
	step(t, n)
	var contents protocol.ContentsMsg
	if err := json.Unmarshal(<-out, &contents); err != nil {
		t.Fatalf("decode contents: %v", err)
	}
	if contents.Type != protocol.TypeContents || len(contents.Items) != 1 || contents.Items[0].Count != 2 {
		t.Fatalf("resync contents: %+v", contents)
	}
}

func TestSnapshotExportImport(t *testing.T) {
	n := testNetwork(t, Config{})
	step(t, n, linkAct(1), linkAct(2), linkAct(3))
	step(t, n,
		protocol.ActMsg{ID: "c", Action: protocol.ActConfigure, Pos: ptr(probeAt(2)), Config: &protocol.ConfigEdit{Mode: str("CATEGORY"), Category: str("fuel"), Name: str("coal")}},
		depositAct("COAL", 20),
		depositAct("COBBLE", 9),
	)
	n.SetRunID("run-1")
	snap := n.ExportSnapshot(n.CurrentTick() - 1)

	m := testNetwork(t, Config{})
	if err := m.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if m.CurrentTick() != n.CurrentTick() {
		t.Fatalf("tick: got %d want %d", m.CurrentTick(), n.CurrentTick())
	}
	if a, b := n.Contents().Map(), m.Contents().Map(); len(a) != len(b) || a["COAL"] != b["COAL"] || a["COBBLE"] != b["COBBLE"] {
		t.Fatalf("contents differ: %v vs %v", a, b)
	}
	want, got := n.ExportRecords(), m.ExportRecords()
	if len(want) != len(got) {
		t.Fatalf("records: %v vs %v", want, got)
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("record %d: %+v vs %+v", i, want[i], got[i])
		}
	}
	if err := m.ImportSnapshot(snap); err == nil {
		t.Fatalf("second import into a populated network must fail")
	}
}
