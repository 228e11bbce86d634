// Package server is the authoritative synchronization engine: it owns the
// shared world model and the playback scheduler, applies every mutation on a
// single writer loop, and fans resulting deltas out to attached connections.
package server

import (
	"context"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"zone.camp/internal/config"
	"zone.camp/internal/media"
	"zone.camp/internal/persistence/snapshot"
	"zone.camp/internal/playback"
	"zone.camp/internal/protocol"
	"zone.camp/internal/zone"
)

// Conn is one live message channel. Out is drained by the transport's writer
// goroutine; sends from the engine never block (an unreachable recipient is
// dropped, not waited on). All other fields are loop-owned after Open.
type Conn struct {
	Out   chan []byte
	NetID string

	// ForceClose asks the transport to close the socket with a code. May be
	// nil in tests.
	ForceClose func(code int, reason string)

	user *zone.User
}

// Inbound is a raw message from a joined connection, ordered per-connection
// by the transport's read loop.
type Inbound struct {
	Conn *Conn
	Type string
	Raw  []byte
}

// OpenRequest runs the ban check at the earliest point of connection, before
// any identity resolution.
type OpenRequest struct {
	Conn *Conn
	Resp chan OpenResponse
}

type OpenResponse struct {
	Banned bool
}

// JoinRequest carries the first message of the handshake.
type JoinRequest struct {
	Conn *Conn
	Msg  protocol.JoinMsg
	Resp chan JoinResult
}

// JoinResult tells the transport how the handshake went. A zero CloseCode
// with OK=false means the connection stays open for a retry.
type JoinResult struct {
	OK        bool
	Resumed   bool
	Assign    protocol.AssignMsg
	Reject    protocol.RejectMsg
	CloseCode int
}

// CloseNote reports a transport-level closure and its close code.
type CloseNote struct {
	Conn *Conn
	Code int
}

// Ban is a network-identity ban record.
type Ban struct {
	NetID  string
	Bannee string
	Banner string
	Reason string
	Date   string
}

// Store is the persistence gateway. Save runs off the engine loop; a failed
// save is logged and retried on the next interval.
type Store interface {
	Load() (snapshot.SnapshotV1, bool, error)
	Save(snapshot.SnapshotV1) error
}

// Options configures an Engine. Provider, Library, Cache, and Store may be
// nil; the corresponding operations degrade to targeted status messages.
type Options struct {
	ZoneID string
	Config config.Config
	Log    *log.Logger

	Provider media.Provider
	Library  *media.Library
	Cache    *media.Cache
	Store    Store

	// NetID anonymizes a transport remote address into a stable opaque
	// identity for the process lifetime. Defaults to a counter-backed
	// resolver.
	NetID func(remoteAddr string) string
}

type Engine struct {
	zoneID string
	cfg    config.Config
	log    *log.Logger

	state    *zone.State
	playback *playback.Playback
	schemas  *protocol.Schemas

	provider media.Provider
	library  *media.Library
	cache    *media.Cache
	store    Store

	netID func(string) string

	opens  chan OpenRequest
	joins  chan JoinRequest
	inbox  chan Inbound
	closes chan CloseNote
	tasks  chan func()
	stop   chan struct{}
	saves  chan snapshot.SnapshotV1

	// Session registry. Loop-owned.
	lastUserID  int
	tokens      map[string]zone.UserID
	userTokens  map[zone.UserID]string
	userConns   map[zone.UserID][]*Conn
	userNet     map[zone.UserID]string
	graceCancel map[zone.UserID]func()

	bans map[string]Ban

	eventMode bool

	skipVotes  map[zone.UserID]struct{}
	skipSource string

	gaugeUsers atomic.Int64
	gaugeConns atomic.Int64
	gaugeQueue atomic.Int64
}

func New(opts Options) (*Engine, error) {
	schemas, err := protocol.CompileSchemas()
	if err != nil {
		return nil, err
	}
	if opts.Log == nil {
		opts.Log = log.Default()
	}
	if opts.NetID == nil {
		opts.NetID = NewNetResolver().NetID
	}

	e := &Engine{
		zoneID:   opts.ZoneID,
		cfg:      opts.Config,
		log:      opts.Log,
		state:    zone.NewState(),
		schemas:  schemas,
		provider: opts.Provider,
		library:  opts.Library,
		cache:    opts.Cache,
		store:    opts.Store,
		netID:    opts.NetID,

		opens:  make(chan OpenRequest, 64),
		joins:  make(chan JoinRequest, 64),
		inbox:  make(chan Inbound, 1024),
		closes: make(chan CloseNote, 64),
		tasks:  make(chan func(), 256),
		stop:   make(chan struct{}),
		saves:  make(chan snapshot.SnapshotV1, 2),

		tokens:      map[string]zone.UserID{},
		userTokens:  map[zone.UserID]string{},
		userConns:   map[zone.UserID][]*Conn{},
		userNet:     map[zone.UserID]string{},
		graceCancel: map[zone.UserID]func(){},
		bans:        map[string]Ban{},
		skipVotes:   map[zone.UserID]struct{}{},
	}

	e.playback = playback.New(opts.Config.PlaybackStartDelay(), playback.SchedulerFunc(e.schedule), time.Now)

	// Fixed listener pipeline, resolved here so every interested party sees
	// every event in emission order.
	e.playback.OnQueue(func(item zone.QueueItem) {
		e.sendAll(protocol.QueueMsg{Type: protocol.KindQueue, Items: []zone.QueueItem{item}})
		e.renewCacheAround()
		e.requestSave()
		e.gaugeQueue.Store(int64(len(e.playback.Queue())))
	})
	e.playback.OnPlay(func(item zone.QueueItem, elapsed time.Duration) {
		e.resetVotes(item)
		e.sendAll(protocol.PlayMsg{Type: protocol.KindPlay, Item: &item, Time: elapsed.Milliseconds()})
		e.renewCacheAround()
		e.requestSave()
		e.gaugeQueue.Store(int64(len(e.playback.Queue())))
	})
	e.playback.OnUnqueue(func(item zone.QueueItem) {
		e.sendAll(protocol.UnqueueMsg{Type: protocol.KindUnqueue, ItemID: item.ItemID})
		e.requestSave()
		e.gaugeQueue.Store(int64(len(e.playback.Queue())))
	})
	e.playback.OnStop(func() {
		e.sendAll(protocol.PlayMsg{Type: protocol.KindPlay})
		e.requestSave()
	})

	return e, nil
}

func (e *Engine) Opens() chan<- OpenRequest { return e.opens }
func (e *Engine) Joins() chan<- JoinRequest { return e.joins }
func (e *Engine) Inbox() chan<- Inbound     { return e.inbox }
func (e *Engine) Closes() chan<- CloseNote  { return e.closes }

func (e *Engine) Stop() { close(e.stop) }

// ResolveNetID anonymizes a transport remote address into the engine's
// opaque network identity. Safe to call from transport goroutines.
func (e *Engine) ResolveNetID(remoteAddr string) string { return e.netID(remoteAddr) }

// schedule arms a one-shot timer whose callback runs on the engine loop.
func (e *Engine) schedule(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, func() {
		select {
		case e.tasks <- fn:
		case <-e.stop:
		}
	})
	return func() { t.Stop() }
}

// Run drives the single writer loop until the context ends. All world-model
// and scheduler mutations happen here; nothing else touches them.
func (e *Engine) Run(ctx context.Context) error {
	saveTick := time.NewTicker(e.cfg.SaveInterval())
	defer saveTick.Stop()
	purgeTick := time.NewTicker(e.cfg.CachePurgeEvery())
	defer purgeTick.Stop()

	go e.saveLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			e.saveNow()
			return ctx.Err()
		case <-e.stop:
			e.saveNow()
			return nil
		case req := <-e.opens:
			_, banned := e.bans[req.Conn.NetID]
			req.Resp <- OpenResponse{Banned: banned}
		case req := <-e.joins:
			e.handleJoin(req)
		case msg := <-e.inbox:
			e.dispatch(msg)
		case note := <-e.closes:
			e.handleClose(note)
		case fn := <-e.tasks:
			fn()
		case <-saveTick.C:
			e.requestSave()
		case <-purgeTick.C:
			e.purgeCache()
		}
	}
}

// submit marshals fn onto the writer loop from another goroutine.
func (e *Engine) submit(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.stop:
	}
}

// requestSave hands a snapshot to the save goroutine without blocking the
// loop. If the writer is behind, the interval ticker covers the retry.
func (e *Engine) requestSave() {
	if e.store == nil {
		return
	}
	select {
	case e.saves <- e.exportSnapshot():
	default:
	}
}

func (e *Engine) saveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case snap := <-e.saves:
			if err := e.store.Save(snap); err != nil {
				e.log.Printf("snapshot save: %v", err)
			}
		}
	}
}

// saveNow writes synchronously; used only on shutdown.
func (e *Engine) saveNow() {
	if e.store == nil {
		return
	}
	if err := e.store.Save(e.exportSnapshot()); err != nil {
		e.log.Printf("final snapshot save: %v", err)
	}
}

func (e *Engine) purgeCache() {
	if e.cache == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if n, err := e.cache.PurgeExpired(ctx); err != nil {
			e.log.Printf("cache purge: %v", err)
		} else if n > 0 {
			e.log.Printf("cache purge: dropped %d entries", n)
		}
	}()
}

// renewCacheAround keeps the current item and the next few queued items warm
// in the metadata cache.
func (e *Engine) renewCacheAround() {
	if e.cache == nil {
		return
	}
	var targets []zone.Media
	if cur, ok := e.playback.Current(); ok {
		targets = append(targets, cur.Media)
	}
	queue := e.playback.Queue()
	if len(queue) > 3 {
		queue = queue[:3]
	}
	for _, item := range queue {
		targets = append(targets, item.Media)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, m := range targets {
			if err := e.cache.Renew(ctx, m.Source(), m); err != nil {
				e.log.Printf("cache renew %s: %v", m.Source(), err)
				return
			}
		}
	}()
}

// Metrics is a read-only gauge snapshot for the metrics endpoint.
type Metrics struct {
	Users       int64
	Connections int64
	QueueLen    int64
}

func (e *Engine) Metrics() Metrics {
	return Metrics{
		Users:       e.gaugeUsers.Load(),
		Connections: e.gaugeConns.Load(),
		QueueLen:    e.gaugeQueue.Load(),
	}
}

// Names lists joined users' display names, serialized through the loop.
func (e *Engine) Names(ctx context.Context) ([]string, error) {
	resp := make(chan []string, 1)
	select {
	case e.tasks <- func() { resp <- e.state.Names() }:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.stop:
		return nil, context.Canceled
	}
	select {
	case names := <-resp:
		return names, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ImportSnapshot restores persisted state. Call before Run.
func (e *Engine) ImportSnapshot(snap snapshot.SnapshotV1) {
	for _, b := range snap.Bans {
		e.bans[b.NetID] = Ban{NetID: b.NetID, Bannee: b.Bannee, Banner: b.Banner, Reason: b.Reason, Date: b.Date}
	}
	for _, c := range snap.Cells {
		e.state.SetCell(zone.Coord(c.Coord), c.Value)
	}
	for _, eo := range snap.Echoes {
		e.state.Echoes[zone.Coord(eo.Position)] = zone.Echo{
			Position: zone.Coord(eo.Position),
			Text:     eo.Text,
			Name:     eo.Name,
			Tags:     eo.Tags,
		}
	}

	st := playback.State{
		Queue:      make([]zone.QueueItem, 0, len(snap.Playback.Queue)),
		TimeMS:     snap.Playback.TimeMS,
		NextItemID: snap.Playback.NextItemID,
	}
	for _, it := range snap.Playback.Queue {
		st.Queue = append(st.Queue, itemFromV1(it))
	}
	if snap.Playback.Current != nil {
		cur := itemFromV1(*snap.Playback.Current)
		st.Current = &cur
	}
	e.playback.LoadState(st)
	e.gaugeQueue.Store(int64(len(e.playback.Queue())))
}

func (e *Engine) exportSnapshot() snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:     1,
			ZoneID:      e.zoneID,
			SavedAtUnix: time.Now().Unix(),
		},
	}

	ps := e.playback.CopyState()
	snap.Playback.TimeMS = ps.TimeMS
	snap.Playback.NextItemID = ps.NextItemID
	snap.Playback.Queue = make([]snapshot.QueueItemV1, 0, len(ps.Queue))
	for _, it := range ps.Queue {
		snap.Playback.Queue = append(snap.Playback.Queue, itemToV1(it))
	}
	if ps.Current != nil {
		cur := itemToV1(*ps.Current)
		snap.Playback.Current = &cur
	}

	for _, b := range e.bans {
		snap.Bans = append(snap.Bans, snapshot.BanV1{NetID: b.NetID, Bannee: b.Bannee, Banner: b.Banner, Reason: b.Reason, Date: b.Date})
	}
	for coord, value := range e.state.Grid {
		snap.Cells = append(snap.Cells, snapshot.CellV1{Coord: coord, Value: value})
	}
	for _, echo := range e.state.Echoes {
		snap.Echoes = append(snap.Echoes, snapshot.EchoV1{Position: echo.Position, Text: echo.Text, Name: echo.Name, Tags: echo.Tags})
	}
	return snap
}

func itemToV1(it zone.QueueItem) snapshot.QueueItemV1 {
	return snapshot.QueueItemV1{
		ItemID:     it.ItemID,
		Title:      it.Media.Title,
		DurationMS: it.Media.Duration,
		Sources:    it.Media.Sources,
		UserID:     string(it.Info.UserID),
		Origin:     it.Info.Origin,
		Banger:     it.Info.Banger,
	}
}

func itemFromV1(it snapshot.QueueItemV1) zone.QueueItem {
	return zone.QueueItem{
		ItemID: it.ItemID,
		Media:  zone.Media{Title: it.Title, Duration: it.DurationMS, Sources: it.Sources},
		Info:   zone.QueueInfo{UserID: zone.UserID(it.UserID), Origin: it.Origin, Banger: it.Banger},
	}
}

// NetResolver anonymizes remote addresses into stable opaque identities for
// the process lifetime.
type NetResolver struct {
	mu  sync.Mutex
	ids map[string]string
	n   int
}

func NewNetResolver() *NetResolver {
	return &NetResolver{ids: map[string]string{}}
}

func (r *NetResolver) NetID(remoteAddr string) string {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[host]; ok {
		return id
	}
	r.n++
	id := "net-" + strconv.Itoa(r.n)
	r.ids[host] = id
	return id
}
