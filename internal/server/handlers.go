package server

import (
	"context"
	"encoding/json"
	"time"

	"zone.camp/internal/protocol"
	"zone.camp/internal/zone"
)

// dispatch routes one inbound message from a joined connection. The kind set
// is closed; anything else was already dropped by the transport.
func (e *Engine) dispatch(msg Inbound) {
	user := msg.Conn.user
	if user == nil {
		return
	}

	switch msg.Type {
	case protocol.KindHeartbeat:
		e.sendUser(user, protocol.HeartbeatMsg{Type: protocol.KindHeartbeat})

	case protocol.KindChat:
		var chat protocol.ChatMsg
		if json.Unmarshal(msg.Raw, &chat) != nil {
			return
		}
		chat.Text = clamp(chat.Text, e.cfg.ChatLengthLimit)
		chat.UserID = user.UserID
		e.sendAll(chat)

	case protocol.KindUser:
		e.handleUserUpdate(user, msg.Raw)

	case protocol.KindAuth:
		var auth protocol.AuthMsg
		if json.Unmarshal(msg.Raw, &auth) != nil {
			return
		}
		e.handleAuth(user, auth.Password)

	case protocol.KindCommand:
		var cmd protocol.CommandMsg
		if json.Unmarshal(msg.Raw, &cmd) != nil {
			return
		}
		e.handleCommand(user, cmd.Name, cmd.Args)

	case protocol.KindBlock:
		e.handleBlock(user, msg.Raw)

	case protocol.KindEcho:
		e.handleEcho(user, msg.Raw)

	case protocol.KindSkip:
		var skip protocol.SkipMsg
		if json.Unmarshal(msg.Raw, &skip) != nil {
			return
		}
		e.handleSkip(user, skip.Source)

	case protocol.KindUnqueue:
		var unq protocol.UnqueueMsg
		if json.Unmarshal(msg.Raw, &unq) != nil {
			return
		}
		e.handleUnqueue(user, unq.ItemID)

	case protocol.KindQueueByID:
		var q protocol.QueueByIDMsg
		if json.Unmarshal(msg.Raw, &q) != nil {
			return
		}
		e.queueByID(user, msg.Conn.NetID, q.ID)

	case protocol.KindQueueByPath:
		var q protocol.QueueByPathMsg
		if json.Unmarshal(msg.Raw, &q) != nil {
			return
		}
		e.queueByPath(user, msg.Conn.NetID, q.Path)

	case protocol.KindQueueLucky:
		var q protocol.QueueLuckyMsg
		if json.Unmarshal(msg.Raw, &q) != nil {
			return
		}
		e.queueLucky(user, msg.Conn.NetID, q.Query)

	case protocol.KindQueueBanger:
		e.queueBanger(user, msg.Conn.NetID)
	}
}

// handleUserUpdate validates and merges a partial self-update, then echoes
// the authoritative delta to everyone. A bad field rejects only this update.
func (e *Engine) handleUserUpdate(user *zone.User, raw []byte) {
	if err := e.schemas.ValidateUser(raw); err != nil {
		e.sendUser(user, protocol.RejectMsg{
			Type: protocol.KindReject,
			Code: protocol.ErrValidation,
			Text: protocol.ValidationText(err),
		})
		return
	}

	var msg protocol.UserMsg
	if json.Unmarshal(raw, &msg) != nil {
		return
	}
	patch := msg.UserPatch
	patch.Tags = nil // role tags are server-managed
	if patch.Name != nil {
		name := clamp(*patch.Name, e.cfg.NameLengthLimit)
		patch.Name = &name
	}
	if patch.Empty() {
		return
	}

	zone.Apply(user, patch)

	out := protocol.UserMsg{Type: protocol.KindUser, UserID: user.UserID, UserPatch: patch}
	e.sendAll(out)
}

func (e *Engine) handleAuth(user *zone.User, password string) {
	if e.cfg.AuthPassword == "" || password != e.cfg.AuthPassword {
		return
	}
	if user.HasTag("admin") {
		e.status("you are already authorised", user)
		return
	}
	user.AddTag("admin")
	e.broadcastTags(user)
	e.status("you are now authorised", user)
}

func (e *Engine) handleBlock(user *zone.User, raw []byte) {
	if err := e.schemas.ValidateBlock(raw); err != nil {
		e.sendUser(user, protocol.RejectMsg{
			Type: protocol.KindReject,
			Code: protocol.ErrValidation,
			Text: protocol.ValidationText(err),
		})
		return
	}
	var msg protocol.BlockMsg
	if json.Unmarshal(raw, &msg) != nil {
		return
	}
	if int(msg.Value) > e.cfg.MaxBlockValue {
		return
	}
	if msg.Coords[0] >= e.cfg.BuildBoundaryX && !user.HasTag("admin") {
		return
	}

	e.state.SetCell(msg.Coords, msg.Value)
	e.sendAll(protocol.BlockMsg{Type: protocol.KindBlock, Coords: msg.Coords, Value: msg.Value})
}

func (e *Engine) handleEcho(user *zone.User, raw []byte) {
	if err := e.schemas.ValidateEcho(raw); err != nil {
		e.sendUser(user, protocol.RejectMsg{
			Type: protocol.KindReject,
			Code: protocol.ErrValidation,
			Text: protocol.ValidationText(err),
		})
		return
	}
	var msg protocol.EchoMsg
	if json.Unmarshal(raw, &msg) != nil {
		return
	}

	existing, exists := e.state.Echoes[msg.Position]
	if exists && existing.AuthoredByAdmin() && !user.HasTag("admin") {
		e.statusCode(protocol.ErrNoPermission, "can't replace admin echo", user)
		return
	}

	if msg.Text == "" {
		if !exists {
			return
		}
		delete(e.state.Echoes, msg.Position)
		e.sendAll(protocol.EchoesMsg{Type: protocol.KindEchoes, Removed: []zone.Coord{msg.Position}})
		return
	}

	echo := zone.Echo{
		Position: msg.Position,
		Text:     clamp(msg.Text, e.cfg.EchoLengthLimit),
		Name:     user.Name,
		Tags:     append([]string(nil), user.Tags...),
	}
	e.state.Echoes[msg.Position] = echo
	e.sendAll(protocol.EchoesMsg{Type: protocol.KindEchoes, Added: []zone.Echo{echo}})
}

func (e *Engine) handleSkip(user *zone.User, source string) {
	current, ok := e.playback.Current()
	if !ok || current.Media.Source() != source {
		return
	}

	if e.eventMode {
		if user.HasTag("dj") || user.HasTag("admin") {
			e.forceSkip(user.Name + " skipped " + current.Media.Title)
		} else {
			e.statusCode(protocol.ErrNoPermission, "can't skip during event mode", user)
		}
		return
	}
	e.voteSkip(user, current)
}

func (e *Engine) handleUnqueue(user *zone.User, itemID int) {
	var item zone.QueueItem
	found := false
	for _, it := range e.playback.Queue() {
		if it.ItemID == itemID {
			item, found = it, true
			break
		}
	}
	if !found {
		return
	}

	own := item.Info.UserID == user.UserID
	admin := user.HasTag("admin")
	dj := e.eventMode && user.HasTag("dj")
	if !own && !admin && !dj {
		e.statusCode(protocol.ErrNoPermission, "not your item to unqueue", user)
		return
	}
	e.playback.Unqueue(itemID)
}

func (e *Engine) broadcastTags(user *zone.User) {
	tags := append([]string(nil), user.Tags...)
	e.sendAll(protocol.UserMsg{
		Type:      protocol.KindUser,
		UserID:    user.UserID,
		UserPatch: zone.UserPatch{Tags: &tags},
	})
}

// resolveCtx bounds an external media lookup.
func resolveCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}
