package ws_test

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"zone.camp/internal/client"
	"zone.camp/internal/config"
	"zone.camp/internal/media"
	"zone.camp/internal/server"
	"zone.camp/internal/transport/ws"
	"zone.camp/internal/zone"
)

func startZone(t *testing.T, mut func(*config.Config)) (string, *server.Engine) {
	t.Helper()
	cfg := config.Defaults()
	cfg.PlaybackStartDelayMS = 10
	cfg.ReconnectGraceMS = 100
	cfg.AuthPassword = "sesame"
	if mut != nil {
		mut(&cfg)
	}

	lib := media.NewLibrary([]media.Entry{
		{Path: "one.mp4", Title: "First Song", DurationMS: 60_000},
		{Path: "two.mp4", Title: "Second Song", DurationMS: 60_000, Banger: true},
	})

	eng, err := server.New(server.Options{
		ZoneID:   "test",
		Config:   cfg,
		Log:      log.New(io.Discard, "", 0),
		Provider: lib,
		Library:  lib,
		// Per-connection identity so one test host is not one shared quota.
		NetID: func(addr string) string { return addr },
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = eng.Run(ctx) }()

	mux := http.NewServeMux()
	mux.HandleFunc("/zone", ws.NewServer(eng, time.Second, log.New(io.Discard, "", 0)).Handler())
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/zone", eng
}

type recorder struct {
	joins   chan zone.User
	renames chan string
	chats   chan string
	plays   chan string
	queues  chan zone.QueueItem
	leaves  chan zone.User
	drops   chan bool
}

func newRecorder() *recorder {
	return &recorder{
		joins:   make(chan zone.User, 16),
		renames: make(chan string, 16),
		chats:   make(chan string, 16),
		plays:   make(chan string, 16),
		queues:  make(chan zone.QueueItem, 16),
		leaves:  make(chan zone.User, 16),
		drops:   make(chan bool, 16),
	}
}

func (r *recorder) events() client.Events {
	return client.Events{
		Join:   func(u zone.User) { r.joins <- u },
		Rename: func(u zone.User, _ string, _ bool) { r.renames <- u.Name },
		Chat:   func(u zone.User, text string, _ bool) { r.chats <- u.Name + ": " + text },
		Play: func(item *zone.QueueItem, _ int64) {
			if item != nil {
				r.plays <- item.Media.Title
			}
		},
		Queue:      func(item zone.QueueItem) { r.queues <- item },
		Leave:      func(u zone.User) { r.leaves <- u },
		Disconnect: func(retryable bool) { r.drops <- retryable },
	}
}

func dialAndJoin(t *testing.T, url, name string) (*client.Client, *recorder) {
	t.Helper()
	rec := newRecorder()
	c := client.New(client.Options{URL: url, JoinName: name}, rec.events())
	if err := c.Dial(); err != nil {
		t.Fatalf("dial %s: %v", name, err)
	}
	if _, err := c.Join(""); err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	return c, rec
}

func waitString(t *testing.T, ch chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func waitUser(t *testing.T, ch chan zone.User, name string) zone.User {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case u := <-ch:
			if u.Name == name {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for user %q", name)
		}
	}
}

func TestEndToEnd_PresenceAndChat(t *testing.T) {
	url, _ := startZone(t, nil)

	ann, annRec := dialAndJoin(t, url, "ann")
	defer ann.Close()
	bea, _ := dialAndJoin(t, url, "bea")
	defer bea.Close()

	// The earlier arrival sees the newcomer as a join.
	waitUser(t, annRec.joins, "bea")

	// The newcomer's presence snapshot already carries the earlier arrival.
	found := false
	for _, u := range bea.Users() {
		if u.Name == "ann" {
			found = true
		}
	}
	if !found {
		t.Fatalf("bea's mirror lacks ann: %v", bea.Users())
	}

	if err := bea.Chat("hello"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	waitString(t, annRec.chats, "bea: hello")
}

func TestEndToEnd_RenameAndLeave(t *testing.T) {
	url, _ := startZone(t, nil)

	ann, annRec := dialAndJoin(t, url, "ann")
	defer ann.Close()
	bea, _ := dialAndJoin(t, url, "bea")
	waitUser(t, annRec.joins, "bea")

	if err := bea.Rename("bee"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	waitString(t, annRec.renames, "bee")

	// A clean close is an immediate leave, no grace window.
	_ = bea.Close()
	waitUser(t, annRec.leaves, "bee")
}

func TestEndToEnd_QueuePlays(t *testing.T) {
	url, _ := startZone(t, nil)

	ann, annRec := dialAndJoin(t, url, "ann")
	defer ann.Close()

	if err := ann.QueueByPath("one.mp4"); err != nil {
		t.Fatalf("queue: %v", err)
	}

	select {
	case item := <-annRec.queues:
		if item.Media.Title != "First Song" {
			t.Fatalf("queued %q", item.Media.Title)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for queue delta")
	}

	waitString(t, annRec.plays, "First Song")
	if len(ann.QueueItems()) != 0 {
		t.Fatalf("mirror queue not drained after play: %v", ann.QueueItems())
	}
}

func TestEndToEnd_LocalMoveWinsOverEcho(t *testing.T) {
	url, _ := startZone(t, nil)

	ann, _ := dialAndJoin(t, url, "ann")
	defer ann.Close()

	if err := ann.Move(zone.Coord{1, 0, 1}); err != nil {
		t.Fatalf("move: %v", err)
	}
	// Beat the first echo with a newer local intent.
	if err := ann.Move(zone.Coord{2, 0, 1}); err != nil {
		t.Fatalf("move: %v", err)
	}

	// Give both echoes time to arrive; the prediction must survive them.
	time.Sleep(300 * time.Millisecond)
	u, ok := ann.LocalUser()
	if !ok || u.Position == nil {
		t.Fatalf("local user lost: %+v ok=%v", u, ok)
	}
	if *u.Position != (zone.Coord{2, 0, 1}) {
		t.Fatalf("position=%v want the newest local intent", *u.Position)
	}
}

func TestEndToEnd_BanDisconnectsWithoutRetry(t *testing.T) {
	url, _ := startZone(t, nil)

	admin, _ := dialAndJoin(t, url, "adm")
	defer admin.Close()
	bea, beaRec := dialAndJoin(t, url, "bea")
	defer bea.Close()

	if err := admin.Auth("sesame"); err != nil {
		t.Fatalf("auth: %v", err)
	}
	// Auth is applied in order before the command on the engine loop.
	if err := admin.Command("ban", "bea"); err != nil {
		t.Fatalf("command: %v", err)
	}

	select {
	case retryable := <-beaRec.drops:
		if retryable {
			t.Fatalf("ban close reported as retryable")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the ban disconnect")
	}
}
