package main

import (
	"path/filepath"
	"strings"
	"testing"

	"zone.camp/internal/persistence/snapshot"
)

func TestResolveSnapshot(t *testing.T) {
	got := resolveSnapshot("./data", "zone_1", "")
	want := filepath.Join("data", "zone_1", "zone.snap.zst")
	if got != want {
		t.Fatalf("default path %q, want %q", got, want)
	}
	if got := resolveSnapshot("./data", "zone_1", "/tmp/other.zst"); got != "/tmp/other.zst" {
		t.Fatalf("explicit path %q", got)
	}
}

func TestPrintSnapshotSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zone.snap.zst")
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Version: 1, ZoneID: "zone_1", SavedAtUnix: 1700000000},
		Playback: snapshot.PlaybackV1{
			Current: &snapshot.QueueItemV1{
				ItemID: 1, Title: "First Song", DurationMS: 60_000,
				Sources: []string{"library/first"}, Origin: "net-1",
			},
			Queue: []snapshot.QueueItemV1{
				{ItemID: 2, Title: "Second Song", DurationMS: 90_000, Origin: "net-2"},
			},
			TimeMS:     4_000,
			NextItemID: 3,
		},
		Bans: []snapshot.BanV1{{NetID: "net-9", Bannee: "mal"}},
	}
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var out strings.Builder
	printSnapshotSummary(&out, loaded)
	text := out.String()

	for _, want := range []string{
		"zone=zone_1 version=1",
		"queue=1 next_item_id=3 bans=1",
		`playing item=1 title="First Song" time_ms=4000`,
		`queued item=2 title="Second Song" origin=net-2`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("summary missing %q:\n%s", want, text)
		}
	}
}
