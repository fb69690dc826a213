package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	networkID := fs.String("network", "", "network id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	tick := fs.Uint64("tick", 0, "snapshot tick (optional; defaults to latest)")
	limit := fs.Int("limit", 20, "result limit")
	item := fs.String("item", "", "item filter (audits)")
	actor := fs.String("actor", "", "actor filter (audits)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*networkID) == "" {
			fmt.Fprintln(os.Stderr, "missing -network or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "networks", *networkID, "index", "network.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if q == "items" || q == "probes" {
		if *tick == 0 {
			lt, err := latestSnapshotTick(db)
			if err != nil {
				fmt.Fprintln(os.Stderr, "latest tick:", err)
				os.Exit(1)
			}
			if lt == 0 {
				fmt.Fprintln(os.Stderr, "no snapshots found")
				os.Exit(2)
			}
			*tick = lt
		}
	}

	var rowsErr error
	switch q {
	case "snapshots":
		rowsErr = querySnapshots(db, *limit)
	case "ticks":
		rowsErr = queryTicks(db, *limit)
	case "audits":
		rowsErr = queryAudits(db, strings.TrimSpace(*item), strings.TrimSpace(*actor), *limit)
	case "items":
		rowsErr = queryItems(db, *tick)
	case "probes":
		rowsErr = queryProbes(db, *tick)
	case "catalogs":
		rowsErr = queryCatalogs(db)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(snapshots|ticks|audits|items|probes|catalogs)")
		os.Exit(2)
	}
	if rowsErr != nil {
		fmt.Fprintln(os.Stderr, "query:", rowsErr)
		os.Exit(1)
	}
}

func querySnapshots(db *sql.DB, limit int) error {
	rows, err := db.Query(`SELECT tick,path,network_id,COALESCE(run_id,''),probes,containers,stacks FROM snapshots ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Tick       int64  `json:"tick"`
			Path       string `json:"path"`
			NetworkID  string `json:"network_id"`
			RunID      string `json:"run_id,omitempty"`
			Probes     int    `json:"probes"`
			Containers int    `json:"containers"`
			Stacks     int    `json:"stacks"`
		}
		if err := rows.Scan(&r.Tick, &r.Path, &r.NetworkID, &r.RunID, &r.Probes, &r.Containers, &r.Stacks); err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}

func queryTicks(db *sql.DB, limit int) error {
	rows, err := db.Query(`SELECT tick,digest,commands,dropped,kinds,members,refreshed FROM ticks ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Tick      int64  `json:"tick"`
			Digest    string `json:"digest"`
			Commands  int    `json:"commands"`
			Dropped   int    `json:"dropped"`
			Kinds     int    `json:"kinds"`
			Members   int    `json:"members"`
			Refreshed bool   `json:"refreshed"`
		}
		if err := rows.Scan(&r.Tick, &r.Digest, &r.Commands, &r.Dropped, &r.Kinds, &r.Members, &r.Refreshed); err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}

func queryAudits(db *sql.DB, item, actor string, limit int) error {
	q := `SELECT tick,seq,actor,action,x,y,z,COALESCE(item,''),count,remainder,overflowed,COALESCE(reason,'') FROM audits`
	var (
		where []string
		args  []any
	)
	if item != "" {
		where = append(where, "item=?")
		args = append(args, item)
	}
	if actor != "" {
		where = append(where, "actor=?")
		args = append(args, actor)
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY tick DESC, seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Tick       int64  `json:"tick"`
			Seq        int    `json:"seq"`
			Actor      string `json:"actor"`
			Action     string `json:"action"`
			Pos        [3]int `json:"pos"`
			Item       string `json:"item,omitempty"`
			Count      int    `json:"count,omitempty"`
			Remainder  int    `json:"remainder,omitempty"`
			Overflowed bool   `json:"overflowed,omitempty"`
			Reason     string `json:"reason,omitempty"`
		}
		if err := rows.Scan(&r.Tick, &r.Seq, &r.Actor, &r.Action, &r.Pos[0], &r.Pos[1], &r.Pos[2], &r.Item, &r.Count, &r.Remainder, &r.Overflowed, &r.Reason); err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}

func queryItems(db *sql.DB, tick uint64) error {
	rows, err := db.Query(`SELECT item,count FROM snapshot_items WHERE tick=? ORDER BY item`, tick)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Tick  uint64 `json:"tick"`
			Item  string `json:"item"`
			Count int    `json:"count"`
		}
		if err := rows.Scan(&r.Item, &r.Count); err != nil {
			return err
		}
		r.Tick = tick
		printJSON(r)
	}
	return rows.Err()
}

func queryProbes(db *sql.DB, tick uint64) error {
	rows, err := db.Query(`SELECT x,y,z,target_x,target_y,target_z,COALESCE(name,''),mode,COALESCE(category,''),priority,tier FROM snapshot_probes WHERE tick=? ORDER BY priority DESC`, tick)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Pos      [3]int `json:"pos"`
			Target   [3]int `json:"target"`
			Name     string `json:"name,omitempty"`
			Mode     string `json:"mode"`
			Category string `json:"category,omitempty"`
			Priority int    `json:"priority"`
			Tier     string `json:"tier"`
		}
		if err := rows.Scan(&r.Pos[0], &r.Pos[1], &r.Pos[2], &r.Target[0], &r.Target[1], &r.Target[2], &r.Name, &r.Mode, &r.Category, &r.Priority, &r.Tier); err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}

func queryCatalogs(db *sql.DB) error {
	rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Name      string `json:"name"`
			Digest    string `json:"digest"`
			UpdatedAt string `json:"updated_at"`
		}
		if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}

func latestSnapshotTick(db *sql.DB) (uint64, error) {
	if db == nil {
		return 0, fmt.Errorf("nil db")
	}
	var t int64
	if err := db.QueryRow(`SELECT COALESCE(MAX(tick),0) FROM snapshots`).Scan(&t); err != nil {
		return 0, err
	}
	if t < 0 {
		return 0, nil
	}
	return uint64(t), nil
}
