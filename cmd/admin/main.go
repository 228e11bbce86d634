// Offline inspector for zone data: snapshot contents, ban list, and the
// media cache db. Operates on files only; never talks to a running server.
package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"zone.camp/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "bans":
			bansCmd(os.Args[2:])
			return
		case "cache":
			cacheCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <snapshot|bans|cache> [flags]")
	os.Exit(2)
}

func resolveSnapshot(dataDir, zoneID, snapPath string) string {
	path := strings.TrimSpace(snapPath)
	if path == "" {
		path = filepath.Join(dataDir, zoneID, "zone.snap.zst")
	}
	return path
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	zoneID := fs.String("zone", "zone_1", "zone id")
	snapPath := fs.String("snapshot", "", "snapshot path (optional)")
	full := fs.Bool("full", false, "dump full contents as json")
	_ = fs.Parse(args)

	snap, err := snapshot.ReadSnapshot(resolveSnapshot(*dataDir, *zoneID, *snapPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	if *full {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
		return
	}

	printSnapshotSummary(os.Stdout, snap)
}

func printSnapshotSummary(w io.Writer, snap snapshot.SnapshotV1) {
	fmt.Fprintf(w, "zone=%s version=%d saved_at=%d\n", snap.Header.ZoneID, snap.Header.Version, snap.Header.SavedAtUnix)
	fmt.Fprintf(w, "queue=%d next_item_id=%d bans=%d cells=%d echoes=%d\n",
		len(snap.Playback.Queue), snap.Playback.NextItemID,
		len(snap.Bans), len(snap.Cells), len(snap.Echoes))
	if snap.Playback.Current != nil {
		fmt.Fprintf(w, "playing item=%d title=%q time_ms=%d\n",
			snap.Playback.Current.ItemID, snap.Playback.Current.Title, snap.Playback.TimeMS)
	}
	for _, item := range snap.Playback.Queue {
		fmt.Fprintf(w, "  queued item=%d title=%q origin=%s\n", item.ItemID, item.Title, item.Origin)
	}
}

func bansCmd(args []string) {
	fs := flag.NewFlagSet("bans", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	zoneID := fs.String("zone", "zone_1", "zone id")
	snapPath := fs.String("snapshot", "", "snapshot path (optional)")
	_ = fs.Parse(args)

	snap, err := snapshot.ReadSnapshot(resolveSnapshot(*dataDir, *zoneID, *snapPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	if len(snap.Bans) == 0 {
		fmt.Println("no bans")
		return
	}
	for _, b := range snap.Bans {
		fmt.Printf("net=%s bannee=%q banner=%q date=%s reason=%q\n",
			b.NetID, b.Bannee, b.Banner, b.Date, b.Reason)
	}
}

func cacheCmd(args []string) {
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	zoneID := fs.String("zone", "zone_1", "zone id")
	dbPath := fs.String("db", "", "media cache db path (optional)")
	limit := fs.Int("limit", 50, "result limit")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, *zoneID, "media.db")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	rows, err := db.Query(
		`SELECT id, title, duration_ms, expires_at FROM media_cache ORDER BY expires_at DESC LIMIT ?`, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var id, title string
		var duration, expires int64
		if err := rows.Scan(&id, &title, &duration, &expires); err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
		fmt.Printf("id=%s title=%q duration_ms=%d expires_at=%d\n", id, title, duration, expires)
		n++
	}
	if err := rows.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "rows:", err)
		os.Exit(1)
	}
	if n == 0 {
		fmt.Println("cache empty")
	}
}
