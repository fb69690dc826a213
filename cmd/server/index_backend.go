package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chestnet.ai/internal/persistence/indexdb"
	"chestnet.ai/internal/persistence/snapshot"
	"chestnet.ai/internal/sim/catalogs"
	"chestnet.ai/internal/sim/network"
	"chestnet.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	network.TickLogger
	network.AuditLogger
	Close() error
	Stats() indexdb.Stats
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	RecordSnapshotState(snap snapshot.SnapshotV1)
}

func openRuntimeIndex(networkDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("CN_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(indexPath(networkDir))
	default:
		return nil, fmt.Errorf("unsupported CN_INDEX_BACKEND: %s", backend)
	}
}

func indexPath(networkDir string) string {
	return filepath.Join(networkDir, "index", "network.sqlite")
}
