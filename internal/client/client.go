// Package client is the thin authoritative mirror: it applies the same
// partial-update reducer as the server over the broadcast stream, keeping a
// local zone.State that trails the server by one round trip. Local writes
// are predictions; the authoritative echo reconciles them, except that a
// locally-originated position is never overwritten by a delayed echo of the
// local user's own older intent.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"zone.camp/internal/protocol"
	"zone.camp/internal/zone"
)

type Options struct {
	URL             string
	JoinName        string
	ResponseTimeout time.Duration
}

// Events are optional callbacks fired from the read goroutine, after the
// mirror state has been updated. Nil callbacks are skipped.
type Events struct {
	Joined func(user zone.User) // local join/resume completed

	Join   func(user zone.User)
	Rename func(user zone.User, previous string, local bool)
	Leave  func(user zone.User)
	Move   func(user zone.User, position zone.Coord, local bool)

	Chat   func(user zone.User, text string, local bool)
	Status func(text string)

	Play    func(item *zone.QueueItem, elapsedMS int64)
	Queue   func(item zone.QueueItem)
	Unqueue func(item zone.QueueItem)

	Blocks func(coords []zone.Coord)

	// Disconnect reports socket loss; retryable means the client may
	// reconnect and resume with its token.
	Disconnect func(retryable bool)
}

type Client struct {
	opts   Options
	events Events

	writeMu sync.Mutex
	sock    *websocket.Conn

	mu      sync.Mutex
	state   *zone.State
	localID zone.UserID
	token   string

	pendingMu sync.Mutex
	pending   chan joinOutcome

	done chan struct{}
}

type joinOutcome struct {
	assign protocol.AssignMsg
	reject *protocol.RejectMsg
}

func New(opts Options, events Events) *Client {
	if opts.ResponseTimeout == 0 {
		opts.ResponseTimeout = 5 * time.Second
	}
	return &Client{
		opts:   opts,
		events: events,
		state:  zone.NewState(),
	}
}

// Dial connects the socket and starts the read loop. Call Join next.
func (c *Client) Dial() error {
	sock, _, err := websocket.DefaultDialer.Dial(c.opts.URL, nil)
	if err != nil {
		return err
	}
	c.sock = sock
	c.done = make(chan struct{})
	go c.readLoop()
	return nil
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = c.sock.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.sock.Close()
}

// Token returns the resumption token to persist for later reconnects.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) LocalUserID() zone.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID
}

// LocalUser returns a copy of the local user's mirror record.
func (c *Client) LocalUser() (zone.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.state.Users[c.localID]
	if !ok {
		return zone.User{}, false
	}
	return *u, true
}

// Users returns a copy of the presence mirror.
func (c *Client) Users() []zone.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]zone.User, 0, len(c.state.Users))
	for _, u := range c.state.Users {
		users = append(users, *u)
	}
	return users
}

// QueueItems returns a copy of the queue mirror.
func (c *Client) QueueItems() []zone.QueueItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]zone.QueueItem(nil), c.state.Queue...)
}

// QueueItem looks up one pending mirror item by id.
func (c *Client) QueueItem(itemID int) (zone.QueueItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.QueueItemByID(itemID)
}

// GridValue reads one mirror cell.
func (c *Client) GridValue(coord zone.Coord) uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Grid[coord]
}

// EchoAt reads one mirror echo.
func (c *Client) EchoAt(coord zone.Coord) (zone.Echo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	echo, ok := c.state.Echoes[coord]
	return echo, ok
}

// Join performs the handshake, clearing any stale mirror first. With a
// previously obtained token the server resumes the old identity.
func (c *Client) Join(password string) (protocol.AssignMsg, error) {
	c.mu.Lock()
	c.state.Clear()
	token := c.token
	c.mu.Unlock()

	pending := make(chan joinOutcome, 1)
	c.pendingMu.Lock()
	c.pending = pending
	c.pendingMu.Unlock()

	err := c.send(protocol.JoinMsg{
		Type:     protocol.KindJoin,
		Name:     c.opts.JoinName,
		Token:    token,
		Password: password,
	})
	if err != nil {
		return protocol.AssignMsg{}, err
	}

	select {
	case outcome := <-pending:
		if outcome.reject != nil {
			return protocol.AssignMsg{}, fmt.Errorf("join rejected: %s", outcome.reject.Text)
		}
		c.mu.Lock()
		c.localID = outcome.assign.UserID
		c.token = outcome.assign.Token
		user := c.state.GetUser(c.localID)
		copied := *user
		c.mu.Unlock()
		if c.events.Joined != nil {
			c.events.Joined(copied)
		}
		return outcome.assign, nil
	case <-c.done:
		return protocol.AssignMsg{}, errors.New("disconnected during join")
	case <-time.After(c.opts.ResponseTimeout):
		return protocol.AssignMsg{}, errors.New("join timeout")
	}
}

func (c *Client) send(v any) error {
	b := protocol.Encode(v)
	if b == nil {
		return errors.New("encode failed")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.sock.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.sock.WriteMessage(websocket.TextMessage, b)
}

// Heartbeat round-trips an application-level keepalive.
func (c *Client) Heartbeat() error {
	return c.send(protocol.HeartbeatMsg{Type: protocol.KindHeartbeat})
}

func (c *Client) Chat(text string) error {
	return c.send(protocol.ChatMsg{Type: protocol.KindChat, Text: text})
}

func (c *Client) Rename(name string) error {
	return c.send(protocol.UserMsg{Type: protocol.KindUser, UserPatch: zone.UserPatch{Name: &name}})
}

// Move predicts locally, then submits. The prediction is what the self-echo
// suppression protects: the most recent local intent wins over a delayed
// echo of an older one.
func (c *Client) Move(position zone.Coord) error {
	c.mu.Lock()
	if u, ok := c.state.Users[c.localID]; ok {
		pos := position
		u.Position = &pos
	}
	c.mu.Unlock()
	pos := position
	return c.send(protocol.UserMsg{Type: protocol.KindUser, UserPatch: zone.UserPatch{Position: &pos}})
}

func (c *Client) Emotes(emotes []string) error {
	return c.send(protocol.UserMsg{Type: protocol.KindUser, UserPatch: zone.UserPatch{Emotes: &emotes}})
}

func (c *Client) Avatar(data string) error {
	return c.send(protocol.UserMsg{Type: protocol.KindUser, UserPatch: zone.UserPatch{Avatar: &data}})
}

func (c *Client) Auth(password string) error {
	return c.send(protocol.AuthMsg{Type: protocol.KindAuth, Password: password})
}

func (c *Client) Command(name string, args ...string) error {
	return c.send(protocol.CommandMsg{Type: protocol.KindCommand, Name: name, Args: args})
}

func (c *Client) SetBlock(coords zone.Coord, value uint8) error {
	return c.send(protocol.BlockMsg{Type: protocol.KindBlock, Coords: coords, Value: value})
}

func (c *Client) Echo(position zone.Coord, text string) error {
	return c.send(protocol.EchoMsg{Type: protocol.KindEcho, Position: position, Text: text})
}

func (c *Client) QueueByID(id string) error {
	return c.send(protocol.QueueByIDMsg{Type: protocol.KindQueueByID, ID: id})
}

func (c *Client) QueueByPath(path string) error {
	return c.send(protocol.QueueByPathMsg{Type: protocol.KindQueueByPath, Path: path})
}

func (c *Client) QueueLucky(query string) error {
	return c.send(protocol.QueueLuckyMsg{Type: protocol.KindQueueLucky, Query: query})
}

func (c *Client) QueueBanger() error {
	return c.send(protocol.QueueBangerMsg{Type: protocol.KindQueueBanger})
}

// Skip votes against (or, when privileged, skips) the last played item.
func (c *Client) Skip() error {
	c.mu.Lock()
	last := c.state.LastPlayed
	c.mu.Unlock()
	if last == nil {
		return nil
	}
	return c.send(protocol.SkipMsg{Type: protocol.KindSkip, Source: last.Media.Source()})
}

func (c *Client) Unqueue(itemID int) error {
	return c.send(protocol.UnqueueMsg{Type: protocol.KindUnqueue, ItemID: itemID})
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			retryable := true
			if ce, ok := err.(*websocket.CloseError); ok {
				retryable = protocol.Retryable(ce.Code)
			}
			if c.events.Disconnect != nil {
				c.events.Disconnect(retryable)
			}
			return
		}
		c.apply(raw)
	}
}

// apply is the client half of the shared reducer: every broadcast mutates
// the mirror exactly the way the server mutated its authoritative copy.
func (c *Client) apply(raw []byte) {
	base, err := protocol.DecodeBase(raw)
	if err != nil {
		return
	}

	switch base.Type {
	case protocol.KindAssign:
		var msg protocol.AssignMsg
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		c.deliverJoin(joinOutcome{assign: msg})

	case protocol.KindReject:
		var msg protocol.RejectMsg
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		c.deliverJoin(joinOutcome{reject: &msg})

	case protocol.KindUsers:
		var msg protocol.UsersMsg
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		c.mu.Lock()
		c.state.Users = map[zone.UserID]*zone.User{}
		for i := range msg.Users {
			u := msg.Users[i]
			c.state.Users[u.UserID] = &u
		}
		c.mu.Unlock()

	case protocol.KindUser:
		c.applyUserDelta(raw)

	case protocol.KindLeave:
		var msg protocol.LeaveMsg
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		c.mu.Lock()
		user, ok := c.state.Users[msg.UserID]
		var copied zone.User
		if ok {
			copied = *user
			delete(c.state.Users, msg.UserID)
		}
		c.mu.Unlock()
		if ok && c.events.Leave != nil {
			c.events.Leave(copied)
		}

	case protocol.KindChat:
		var msg protocol.ChatMsg
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		c.mu.Lock()
		user := *c.state.GetUser(msg.UserID)
		local := msg.UserID == c.localID
		c.mu.Unlock()
		if c.events.Chat != nil {
			c.events.Chat(user, msg.Text, local)
		}

	case protocol.KindStatus:
		var msg protocol.StatusMsg
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		if c.events.Status != nil {
			c.events.Status(msg.Text)
		}

	case protocol.KindQueue:
		var msg protocol.QueueMsg
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		c.mu.Lock()
		c.state.Queue = append(c.state.Queue, msg.Items...)
		c.mu.Unlock()
		if len(msg.Items) == 1 && c.events.Queue != nil {
			c.events.Queue(msg.Items[0])
		}

	case protocol.KindUnqueue:
		var msg protocol.UnqueueMsg
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		c.mu.Lock()
		item, ok := c.state.RemoveQueueItem(msg.ItemID)
		c.mu.Unlock()
		if ok && c.events.Unqueue != nil {
			c.events.Unqueue(item)
		}

	case protocol.KindPlay:
		var msg protocol.PlayMsg
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		c.mu.Lock()
		if msg.Item != nil {
			item := *msg.Item
			c.state.LastPlayed = &item
			c.state.RemoveQueueItem(item.ItemID)
		}
		c.mu.Unlock()
		if c.events.Play != nil {
			c.events.Play(msg.Item, msg.Time)
		}

	case protocol.KindBlocks:
		var msg protocol.BlocksMsg
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		coords := make([]zone.Coord, 0, len(msg.Cells))
		c.mu.Lock()
		for _, cell := range msg.Cells {
			c.state.SetCell(cell.Coord, cell.Value)
			coords = append(coords, cell.Coord)
		}
		c.mu.Unlock()
		if c.events.Blocks != nil {
			c.events.Blocks(coords)
		}

	case protocol.KindBlock:
		var msg protocol.BlockMsg
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		c.mu.Lock()
		c.state.SetCell(msg.Coords, msg.Value)
		c.mu.Unlock()
		if c.events.Blocks != nil {
			c.events.Blocks([]zone.Coord{msg.Coords})
		}

	case protocol.KindEchoes:
		var msg protocol.EchoesMsg
		if json.Unmarshal(raw, &msg) != nil {
			return
		}
		c.mu.Lock()
		for _, echo := range msg.Added {
			c.state.Echoes[echo.Position] = echo
		}
		for _, coord := range msg.Removed {
			delete(c.state.Echoes, coord)
		}
		c.mu.Unlock()

	case protocol.KindHeartbeat:
		// Round-trip acknowledged; nothing to mirror.
	}
}

func (c *Client) applyUserDelta(raw []byte) {
	var msg protocol.UserMsg
	if json.Unmarshal(raw, &msg) != nil {
		return
	}

	c.mu.Lock()
	user := c.state.GetUser(msg.UserID)
	local := msg.UserID == c.localID

	patch := msg.UserPatch
	if local && user.Position != nil {
		// Keep the most recent locally-originated position; this delta may
		// be a delayed echo of an older local move.
		patch.Position = nil
	}
	result := zone.Apply(user, patch)
	copied := *user
	c.mu.Unlock()

	if result.Joined && c.events.Join != nil {
		c.events.Join(copied)
	}
	if result.Renamed && c.events.Rename != nil {
		c.events.Rename(copied, result.PreviousName, local)
	}
	if result.Moved && c.events.Move != nil && copied.Position != nil {
		c.events.Move(copied, *copied.Position, local)
	}
}

func (c *Client) deliverJoin(outcome joinOutcome) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = nil
	c.pendingMu.Unlock()
	// Rejects outside a handshake are informational only.
	if pending != nil {
		select {
		case pending <- outcome:
		default:
		}
	}
}
