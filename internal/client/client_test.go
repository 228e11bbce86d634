package client

import (
	"testing"

	"zone.camp/internal/protocol"
	"zone.camp/internal/zone"
)

// feed pushes a raw broadcast through the mirror reducer.
func feed(c *Client, v any) { c.apply(protocol.Encode(v)) }

func strp(s string) *string { return &s }

func TestReducer_JoinVersusRename(t *testing.T) {
	var joins, renames []string
	c := New(Options{}, Events{
		Join:   func(u zone.User) { joins = append(joins, u.Name) },
		Rename: func(u zone.User, prev string, _ bool) { renames = append(renames, prev+">"+u.Name) },
	})

	feed(c, protocol.UserMsg{Type: protocol.KindUser, UserID: "1", UserPatch: zone.UserPatch{Name: strp("ann")}})
	feed(c, protocol.UserMsg{Type: protocol.KindUser, UserID: "1", UserPatch: zone.UserPatch{Name: strp("annie")}})
	// Identical delta replayed: no event either way.
	feed(c, protocol.UserMsg{Type: protocol.KindUser, UserID: "1", UserPatch: zone.UserPatch{Name: strp("annie")}})

	if len(joins) != 1 || joins[0] != "ann" {
		t.Fatalf("joins=%v", joins)
	}
	if len(renames) != 1 || renames[0] != "ann>annie" {
		t.Fatalf("renames=%v", renames)
	}
}

func TestReducer_LocalPositionPrediction(t *testing.T) {
	c := New(Options{}, Events{})
	c.localID = "1"

	// Local prediction.
	pos := zone.Coord{5, 0, 5}
	c.state.GetUser("1").Position = &pos

	// A delayed echo of an older move must not roll the prediction back.
	old := zone.Coord{1, 0, 1}
	feed(c, protocol.UserMsg{Type: protocol.KindUser, UserID: "1", UserPatch: zone.UserPatch{Position: &old}})
	if *c.state.GetUser("1").Position != pos {
		t.Fatalf("prediction overwritten: %v", *c.state.GetUser("1").Position)
	}

	// Another user's authoritative position applies as-is.
	feed(c, protocol.UserMsg{Type: protocol.KindUser, UserID: "2", UserPatch: zone.UserPatch{Position: &old}})
	if *c.state.GetUser("2").Position != old {
		t.Fatalf("remote position not applied")
	}
}

func TestReducer_LeaveRemovesUser(t *testing.T) {
	var left []zone.UserID
	c := New(Options{}, Events{Leave: func(u zone.User) { left = append(left, u.UserID) }})

	feed(c, protocol.UserMsg{Type: protocol.KindUser, UserID: "1", UserPatch: zone.UserPatch{Name: strp("ann")}})
	feed(c, protocol.LeaveMsg{Type: protocol.KindLeave, UserID: "1"})

	if _, ok := c.state.Users["1"]; ok {
		t.Fatalf("user still mirrored after leave")
	}
	if len(left) != 1 || left[0] != "1" {
		t.Fatalf("left=%v", left)
	}
	// Leave for an unknown user is silent.
	feed(c, protocol.LeaveMsg{Type: protocol.KindLeave, UserID: "9"})
	if len(left) != 1 {
		t.Fatalf("phantom leave event")
	}
}

func TestReducer_PlayDrainsQueue(t *testing.T) {
	c := New(Options{}, Events{})

	item := zone.QueueItem{ItemID: 1, Media: zone.Media{Title: "song", Sources: []string{"lib/x"}}}
	feed(c, protocol.QueueMsg{Type: protocol.KindQueue, Items: []zone.QueueItem{item}})
	if len(c.state.Queue) != 1 {
		t.Fatalf("queue=%v", c.state.Queue)
	}
	if got, ok := c.QueueItem(1); !ok || got.Media.Title != "song" {
		t.Fatalf("pending item lookup: %v %v", got, ok)
	}

	feed(c, protocol.PlayMsg{Type: protocol.KindPlay, Item: &item})
	if len(c.state.Queue) != 0 {
		t.Fatalf("queue not drained on play")
	}
	if _, ok := c.QueueItem(1); ok {
		t.Fatalf("played item still pending")
	}
	if c.state.LastPlayed == nil || c.state.LastPlayed.ItemID != 1 {
		t.Fatalf("last played=%v", c.state.LastPlayed)
	}
}

func TestReducer_BlocksAndEchoes(t *testing.T) {
	c := New(Options{}, Events{})

	feed(c, protocol.BlockMsg{Type: protocol.KindBlock, Coords: zone.Coord{-8, 0, 1}, Value: 3})
	if c.GridValue(zone.Coord{-8, 0, 1}) != 3 {
		t.Fatalf("block delta not mirrored")
	}
	feed(c, protocol.BlockMsg{Type: protocol.KindBlock, Coords: zone.Coord{-8, 0, 1}, Value: 0})
	if c.GridValue(zone.Coord{-8, 0, 1}) != 0 {
		t.Fatalf("clearing delta not mirrored")
	}

	echo := zone.Echo{Position: zone.Coord{1, 0, 1}, Text: "hi"}
	feed(c, protocol.EchoesMsg{Type: protocol.KindEchoes, Added: []zone.Echo{echo}})
	if got, ok := c.EchoAt(zone.Coord{1, 0, 1}); !ok || got.Text != "hi" {
		t.Fatalf("echo not mirrored")
	}
	feed(c, protocol.EchoesMsg{Type: protocol.KindEchoes, Removed: []zone.Coord{{1, 0, 1}}})
	if _, ok := c.EchoAt(zone.Coord{1, 0, 1}); ok {
		t.Fatalf("echo not removed")
	}
}
