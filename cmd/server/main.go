package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	persistlog "chestnet.ai/internal/persistence/log"
	"chestnet.ai/internal/persistence/snapshot"
	"chestnet.ai/internal/sim/catalogs"
	"chestnet.ai/internal/sim/network"
	"chestnet.ai/internal/sim/tuning"
	"chestnet.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		networkID  = flag.String("network", "net_1", "network id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (tick/audit + catalogs + snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	netLogger := log.New(os.Stdout, "[network] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	networkDir := filepath.Join(*dataDir, "networks", *networkID)
	_ = os.MkdirAll(networkDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	// Optional: read-model index backend (does not affect routing).
	idx, err := openRuntimeIndex(networkDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(networkDir)
	}

	// Load tuning (required for a fresh network; optional for snapshot resumes).
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if snapshotToLoad == "" {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		if os.IsNotExist(tuneErr) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
	}

	if idx != nil {
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	cfg := network.ConfigFromTuning(*networkID, tune)
	var snap *snapshot.SnapshotV1
	if snapshotToLoad != "" {
		s, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if s.Header.NetworkID != "" && s.Header.NetworkID != *networkID {
			logger.Fatalf("snapshot network id mismatch: flag=%s snap=%s", *networkID, s.Header.NetworkID)
		}
		// The snapshot carries the geometry the contents were written with.
		if s.TickRate > 0 {
			cfg.TickRateHz = s.TickRate
		}
		if s.SlotCount > 0 {
			cfg.SlotCount = s.SlotCount
		}
		if s.SlotLimit > 0 {
			cfg.SlotLimit = s.SlotLimit
		}
		snap = &s
	}

	n := network.New(cfg, &cats.Items, netLogger)
	if snap != nil {
		if err := n.ImportSnapshot(*snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), n.CurrentTick())
	}
	runID := uuid.NewString()
	n.SetRunID(runID)
	logger.Printf("network=%s run=%s tick_rate=%d", *networkID, runID, cfg.TickRateHz)

	ctx, cancel := signalContext()
	defer cancel()

	tickLog := persistlog.NewTickLogger(networkDir)
	auditLog := persistlog.NewAuditLogger(networkDir)
	defer tickLog.Close()
	defer auditLog.Close()
	if idx != nil {
		n.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
		n.SetAuditLogger(multiAuditLogger{a: auditLog, b: idx})
	} else {
		n.SetTickLogger(tickLog)
		n.SetAuditLogger(auditLog)
	}

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	n.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-snapCh:
				path := filepath.Join(networkDir, "snapshots", fmt.Sprintf("%d.snap.zst", s.Header.Tick))
				if err := snapshot.WriteSnapshot(path, s); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, s)
					idx.RecordSnapshotState(s)
				}
			}
		}
	}()

	go func() {
		if err := n.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("network stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, *networkID, n, idx)
	})

	enableAdminHTTP := envBool("CN_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("CN_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				NetworkID string          `json:"network_id"`
				RunID     string          `json:"run_id"`
				Tick      uint64          `json:"tick"`
				Metrics   network.Metrics `json:"metrics"`
			}{
				NetworkID: *networkID,
				RunID:     runID,
				Tick:      n.CurrentTick(),
				Metrics:   n.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			tick, err := n.RequestSnapshot(ctx2)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
		})
	} else {
		logger.Printf("admin endpoints disabled (CN_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (CN_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(n, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// writeMetrics renders the minimal Prometheus exposition format.
func writeMetrics(rw io.Writer, networkID string, n *network.Network, idx runtimeIndex) {
	m := n.Metrics()
	tick := n.CurrentTick()
	if m.Tick != 0 {
		tick = m.Tick
	}

	fmt.Fprintf(rw, "# HELP chestnet_tick Current network tick.\n")
	fmt.Fprintf(rw, "# TYPE chestnet_tick gauge\n")
	fmt.Fprintf(rw, "chestnet_tick{network=%q} %d\n", networkID, tick)

	fmt.Fprintf(rw, "# HELP chestnet_members Linked containers in the sorted view.\n")
	fmt.Fprintf(rw, "# TYPE chestnet_members gauge\n")
	fmt.Fprintf(rw, "chestnet_members{network=%q} %d\n", networkID, m.Members)

	fmt.Fprintf(rw, "# HELP chestnet_item_kinds Distinct item kinds held by the network.\n")
	fmt.Fprintf(rw, "# TYPE chestnet_item_kinds gauge\n")
	fmt.Fprintf(rw, "chestnet_item_kinds{network=%q} %d\n", networkID, m.Kinds)

	fmt.Fprintf(rw, "# HELP chestnet_subscribers Connected sessions receiving contents.\n")
	fmt.Fprintf(rw, "# TYPE chestnet_subscribers gauge\n")
	fmt.Fprintf(rw, "chestnet_subscribers{network=%q} %d\n", networkID, m.Subscribers)

	fmt.Fprintf(rw, "# HELP chestnet_commands Commands applied in the last tick.\n")
	fmt.Fprintf(rw, "# TYPE chestnet_commands gauge\n")
	fmt.Fprintf(rw, "chestnet_commands{network=%q} %d\n", networkID, m.Commands)

	fmt.Fprintf(rw, "# HELP chestnet_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE chestnet_queue_depth gauge\n")
	fmt.Fprintf(rw, "chestnet_queue_depth{network=%q,queue=%q} %d\n", networkID, "inbox", m.InboxDepth)
	fmt.Fprintf(rw, "chestnet_queue_depth{network=%q,queue=%q} %d\n", networkID, "sort_jobs", m.SortJobs)

	fmt.Fprintf(rw, "# HELP chestnet_changed_kinds Item kinds whose total changed in the last tick.\n")
	fmt.Fprintf(rw, "# TYPE chestnet_changed_kinds gauge\n")
	fmt.Fprintf(rw, "chestnet_changed_kinds{network=%q} %d\n", networkID, m.ChangedKinds)

	fmt.Fprintf(rw, "# HELP chestnet_aggregate_age_ticks Ticks since the last full contents rescan.\n")
	fmt.Fprintf(rw, "# TYPE chestnet_aggregate_age_ticks gauge\n")
	age := uint64(0)
	if tick > m.LastRefresh {
		age = tick - m.LastRefresh
	}
	fmt.Fprintf(rw, "chestnet_aggregate_age_ticks{network=%q} %d\n", networkID, age)

	fmt.Fprintf(rw, "# HELP chestnet_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE chestnet_step_ms gauge\n")
	fmt.Fprintf(rw, "chestnet_step_ms{network=%q} %.3f\n", networkID, m.StepMS)

	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(rw, "# HELP chestnet_index_queue_depth Index writer queue depth.\n")
	fmt.Fprintf(rw, "# TYPE chestnet_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "chestnet_index_queue_depth{network=%q} %d\n", networkID, s.QueueDepth)

	fmt.Fprintf(rw, "# HELP chestnet_index_dropped_total Index writes dropped under backpressure.\n")
	fmt.Fprintf(rw, "# TYPE chestnet_index_dropped_total counter\n")
	fmt.Fprintf(rw, "chestnet_index_dropped_total{network=%q,kind=%q} %d\n", networkID, "tick", s.DropTickTotal)
	fmt.Fprintf(rw, "chestnet_index_dropped_total{network=%q,kind=%q} %d\n", networkID, "audit", s.DropAuditTotal)
	fmt.Fprintf(rw, "chestnet_index_dropped_total{network=%q,kind=%q} %d\n", networkID, "snapshot", s.DropSnapshotTotal)
	fmt.Fprintf(rw, "chestnet_index_dropped_total{network=%q,kind=%q} %d\n", networkID, "snapshot_state", s.DropSnapshotStateTotal)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
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
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
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

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

type multiTickLogger struct {
	a network.TickLogger
	b network.TickLogger
}

func (m multiTickLogger) WriteTick(entry network.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a network.AuditLogger
	b network.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry network.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
