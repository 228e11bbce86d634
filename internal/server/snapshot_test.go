package server

import (
	"testing"

	"zone.camp/internal/zone"
)

func TestSnapshot_EngineRoundTrip(t *testing.T) {
	e := testEngine(t, nil)
	ann := joinUser(t, e, "ann", "net-1")

	e.admitMedia(ann.user, ann.NetID, testMedia("first", 60_000), false)
	e.admitMedia(ann.user, ann.NetID, testMedia("second", 60_000), false)
	e.playback.Skip() // first playing

	e.bans["net-9"] = Ban{NetID: "net-9", Bannee: "troll", Banner: "adm", Date: "2026-08-31T00:00:00Z"}
	e.state.SetCell(zone.Coord{-8, 0, 2}, 3)
	e.state.Echoes[zone.Coord{1, 0, 1}] = zone.Echo{Position: zone.Coord{1, 0, 1}, Text: "hi", Name: "ann"}

	snap := e.exportSnapshot()
	if snap.Header.ZoneID != "test" || snap.Header.Version != 1 {
		t.Fatalf("header=%+v", snap.Header)
	}
	if snap.Playback.Current == nil || snap.Playback.Current.Title != "first" {
		t.Fatalf("current=%+v", snap.Playback.Current)
	}

	restored := testEngine(t, nil)
	restored.ImportSnapshot(snap)

	if _, banned := restored.bans["net-9"]; !banned {
		t.Fatalf("ban not restored")
	}
	if restored.state.Grid[zone.Coord{-8, 0, 2}] != 3 {
		t.Fatalf("grid not restored")
	}
	if restored.state.Echoes[zone.Coord{1, 0, 1}].Text != "hi" {
		t.Fatalf("echoes not restored")
	}

	cur, ok := restored.playback.Current()
	if !ok || cur.Media.Source() != "first" {
		t.Fatalf("current=%v ok=%v", cur, ok)
	}
	queue := restored.playback.Queue()
	if len(queue) != 1 || queue[0].Media.Source() != "second" {
		t.Fatalf("queue=%v", queue)
	}
	if queue[0].Info.Origin != "net-1" {
		t.Fatalf("origin not restored: %+v", queue[0].Info)
	}

	// Item ids keep counting from where the saved engine left off.
	bea := joinUser(t, restored, "bea", "net-2")
	restored.admitMedia(bea.user, bea.NetID, testMedia("third", 1000), false)
	q := restored.playback.Queue()
	if got := q[len(q)-1].ItemID; got != 3 {
		t.Fatalf("next item id=%d want 3", got)
	}

	// Sessions are not persisted; only the fresh join is present.
	if len(restored.state.Users) != 1 {
		t.Fatalf("users=%d want 1 (only the fresh join)", len(restored.state.Users))
	}
}
