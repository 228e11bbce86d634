package protocol

import "zone.camp/internal/zone"

// join (client -> server)
type JoinMsg struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// heartbeat (both directions)
type HeartbeatMsg struct {
	Type string `json:"type"`
}

// chat (client -> server carries only text; the broadcast adds the origin)
type ChatMsg struct {
	Type   string      `json:"type"`
	Text   string      `json:"text"`
	UserID zone.UserID `json:"userId,omitempty"`
}

// user (client -> server: partial self-update; server -> client: delta)
type UserMsg struct {
	Type   string      `json:"type"`
	UserID zone.UserID `json:"userId,omitempty"`
	zone.UserPatch
}

// FullUser builds a user delta carrying every populated field, used for the
// fresh-join broadcast.
func FullUser(u zone.User) UserMsg {
	m := UserMsg{Type: KindUser, UserID: u.UserID}
	if u.Name != "" {
		name := u.Name
		m.Name = &name
	}
	if u.Position != nil {
		pos := *u.Position
		m.Position = &pos
	}
	if u.Avatar != "" {
		avatar := u.Avatar
		m.Avatar = &avatar
	}
	if len(u.Emotes) > 0 {
		emotes := append([]string(nil), u.Emotes...)
		m.Emotes = &emotes
	}
	if len(u.Tags) > 0 {
		tags := append([]string(nil), u.Tags...)
		m.Tags = &tags
	}
	return m
}

// auth (client -> server)
type AuthMsg struct {
	Type     string `json:"type"`
	Password string `json:"password"`
}

// command (client -> server)
type CommandMsg struct {
	Type string   `json:"type"`
	Name string   `json:"name"`
	Args []string `json:"args"`
}

// block (both directions: a single cell write, value 0 clears)
type BlockMsg struct {
	Type   string     `json:"type"`
	Coords zone.Coord `json:"coords"`
	Value  uint8      `json:"value"`
}

// echo (client -> server: empty text removes the echo at position)
type EchoMsg struct {
	Type     string     `json:"type"`
	Position zone.Coord `json:"position"`
	Text     string     `json:"text"`
}

// skip (client -> server; source pins the vote to the current item identity)
type SkipMsg struct {
	Type   string `json:"type"`
	Source string `json:"source"`
}

// unqueue (both directions)
type UnqueueMsg struct {
	Type   string `json:"type"`
	ItemID int    `json:"itemId"`
}

// queue-by-id / queue-by-path / queue-lucky / queue-banger (client -> server)
type QueueByIDMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type QueueByPathMsg struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

type QueueLuckyMsg struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

type QueueBangerMsg struct {
	Type string `json:"type"`
}

// assign (server -> client, join success)
type AssignMsg struct {
	Type   string      `json:"type"`
	UserID zone.UserID `json:"userId"`
	Token  string      `json:"token"`
}

// reject (server -> client, join or validation failure)
type RejectMsg struct {
	Type string `json:"type"`
	Code string `json:"code,omitempty"`
	Text string `json:"text"`
}

// users (server -> client, one-time presence snapshot)
type UsersMsg struct {
	Type  string      `json:"type"`
	Users []zone.User `json:"users"`
}

// leave (server -> client)
type LeaveMsg struct {
	Type   string      `json:"type"`
	UserID zone.UserID `json:"userId"`
}

// queue (server -> client; a snapshot carries the whole queue, a delta one item)
type QueueMsg struct {
	Type  string           `json:"type"`
	Items []zone.QueueItem `json:"items"`
}

// play (server -> client; nil item means playback stopped)
type PlayMsg struct {
	Type string          `json:"type"`
	Item *zone.QueueItem `json:"item,omitempty"`
	Time int64           `json:"time,omitempty"` // elapsed milliseconds
}

// blocks (server -> client, one-time grid snapshot)
type BlocksMsg struct {
	Type  string      `json:"type"`
	Cells []zone.Cell `json:"cells"`
}

// echoes (server -> client)
type EchoesMsg struct {
	Type    string       `json:"type"`
	Added   []zone.Echo  `json:"added,omitempty"`
	Removed []zone.Coord `json:"removed,omitempty"`
}

// status (server -> client, free-text notice; code classes policy refusals)
type StatusMsg struct {
	Type string `json:"type"`
	Code string `json:"code,omitempty"`
	Text string `json:"text"`
}
