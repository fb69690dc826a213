package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version   int    `json:"version"`
	NetworkID string `json:"network_id"`
	Tick      uint64 `json:"tick"`
	RunID     string `json:"run_id,omitempty"`
}

// SnapshotV1 is the durable state of one network: probe configs and chest contents.
// Aggregated totals and caches are derived and never stored.
type SnapshotV1 struct {
	Header Header `json:"header"`

	TickRate        int    `json:"tick_rate_hz"`
	SlotCount       int    `json:"slot_count"`
	SlotLimit       int    `json:"slot_limit"`
	ItemsDefsDigest string `json:"items_defs_digest,omitempty"`
	SortedViewTTL   int    `json:"sorted_view_ttl_ticks,omitempty"`
	OccupancyTTL    int    `json:"occupancy_ttl_ticks,omitempty"`
	SnapshotEvery   int    `json:"snapshot_every_ticks,omitempty"`

	Probes     []ProbeV1     `json:"probes"`
	Containers []ContainerV1 `json:"containers"`
}

// ProbeV1 is one linked container. Priority and tier are persisted; the derived ordering key is not.
type ProbeV1 struct {
	Pos      [3]int `json:"pos"`
	Target   [3]int `json:"target"`
	Name     string `json:"name,omitempty"`
	Mode     string `json:"mode"`
	Category string `json:"category,omitempty"`
	Priority int    `json:"priority"`
	Tier     string `json:"tier"`
}

type ContainerV1 struct {
	Type  string   `json:"type"`
	Pos   [3]int   `json:"pos"`
	Size  int      `json:"size"`
	Limit int      `json:"limit"`
	Slots []SlotV1 `json:"slots,omitempty"`
}

// SlotV1 is a non-empty slot; empty slots are omitted.
type SlotV1 struct {
	Index int    `json:"i"`
	Item  string `json:"item"`
	Count int    `json:"n"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header; the line only serves ReadHeader.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("header line: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("header line: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, err
	}
	if h.Version == 0 {
		return h, errors.New("missing snapshot version")
	}
	return h, nil
}
