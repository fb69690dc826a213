// Package network ties one registry, aggregator and routing engine into a running storage
// network. All state is owned by the goroutine running Run; other goroutines talk to it
// through Enqueue, Submit and Subscribe.
package network

import (
	"io"
	"log"
	"sync/atomic"

	"chestnet.ai/internal/persistence/snapshot"
	"chestnet.ai/internal/sim/catalogs"
	"chestnet.ai/internal/sim/network/aggregate"
	"chestnet.ai/internal/sim/network/registry"
	"chestnet.ai/internal/sim/network/routing"
	"chestnet.ai/internal/sim/storage"
)

type Network struct {
	cfg    Config
	items  *catalogs.ItemCatalog
	logger *log.Logger

	store *storage.Store
	reg   *registry.Registry
	agg   *aggregate.Aggregator
	eng   *routing.Engine

	tick atomic.Uint64

	inbox       chan Command
	subscribe   chan subscribeReq
	unsubscribe chan string
	admin       chan adminSnapshotReq
	stop        chan struct{}
	done        chan struct{}

	subs     map[string]*subscriber
	sortJobs []*sortJob

	tickLogger   TickLogger
	auditLogger  AuditLogger
	snapshotSink chan<- snapshot.SnapshotV1
	runID        string

	metrics atomic.Value // Metrics
}

func New(cfg Config, items *catalogs.ItemCatalog, logger *log.Logger) *Network {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	n := &Network{
		cfg:         cfg,
		items:       items,
		logger:      logger,
		store:       storage.New(cfg.SlotCount, cfg.SlotLimit),
		agg:         aggregate.New(),
		inbox:       make(chan Command, 1024),
		subscribe:   make(chan subscribeReq, 64),
		unsubscribe: make(chan string, 64),
		admin:       make(chan adminSnapshotReq, 8),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		subs:        map[string]*subscriber{},
	}
	n.reg = registry.New(n.store, items, registry.Options{
		SortedViewTTL: uint64(cfg.SortedViewTTLTicks),
		OccupancyTTL:  uint64(cfg.OccupancyTTLTicks),
	})
	n.eng = routing.New(n.reg, n.agg, items)
	n.metrics.Store(Metrics{})
	return n
}

func (n *Network) SetTickLogger(l TickLogger)                    { n.tickLogger = l }
func (n *Network) SetAuditLogger(l AuditLogger)                  { n.auditLogger = l }
func (n *Network) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { n.snapshotSink = ch }
func (n *Network) SetRunID(id string)                            { n.runID = id }

func (n *Network) ID() string          { return n.cfg.ID }
func (n *Network) TickRateHz() int     { return n.cfg.TickRateHz }
func (n *Network) CurrentTick() uint64 { return n.tick.Load() }

func (n *Network) Metrics() Metrics {
	m, _ := n.metrics.Load().(Metrics)
	return m
}

// Store exposes the chests behind the network. Only the loop goroutine (or a test that does
// not run the loop) may touch it.
func (n *Network) Store() *storage.Store { return n.store }

func (n *Network) Stop() { close(n.stop) }

func (n *Network) audit(e AuditEntry) {
	if n.auditLogger == nil {
		return
	}
	if e.Tick == 0 {
		e.Tick = n.tick.Load()
	}
	_ = n.auditLogger.WriteAudit(e)
}
