package server

import (
	"strconv"

	"github.com/google/uuid"

	"zone.camp/internal/protocol"
	"zone.camp/internal/zone"
)

// handleJoin runs the join handshake on the writer loop: ban check, token
// resumption or fresh identity, attach, assign, then the one-time full state
// hand-off. Everything after the hand-off is incremental deltas.
func (e *Engine) handleJoin(req JoinRequest) {
	conn := req.Conn
	msg := req.Msg

	if _, banned := e.bans[conn.NetID]; banned {
		req.Resp <- JoinResult{
			Reject:    protocol.RejectMsg{Type: protocol.KindReject, Code: protocol.ErrBanned, Text: "you are banned"},
			CloseCode: protocol.CloseBanned,
		}
		return
	}

	resumedID, resume := e.tokens[msg.Token]
	authorized := resume || e.cfg.JoinPassword == "" || msg.Password == e.cfg.JoinPassword
	if !authorized {
		// The connection stays open; the client may retry with credentials.
		req.Resp <- JoinResult{
			Reject: protocol.RejectMsg{Type: protocol.KindReject, Code: protocol.ErrAuthRequired, Text: "password required"},
		}
		return
	}

	var user *zone.User
	var token string
	if resume {
		user = e.state.GetUser(resumedID)
		token = msg.Token
	} else {
		e.lastUserID++
		user = e.state.GetUser(zone.UserID(strconv.Itoa(e.lastUserID)))
		token = uuid.NewString()
		e.tokens[token] = user.UserID
		e.userTokens[user.UserID] = token
	}

	name := clamp(msg.Name, e.cfg.NameLengthLimit)
	patch := zone.UserPatch{Name: &name}
	zone.Apply(user, patch)

	e.attach(user, conn)
	e.userNet[user.UserID] = conn.NetID

	req.Resp <- JoinResult{
		OK:      true,
		Resumed: resume,
		Assign:  protocol.AssignMsg{Type: protocol.KindAssign, UserID: user.UserID, Token: token},
	}

	e.sendConn(conn, protocol.AssignMsg{Type: protocol.KindAssign, UserID: user.UserID, Token: token})
	e.sendFullState(conn)
	if !resume {
		e.sendAll(protocol.FullUser(*user))
	}

	e.gaugeUsers.Store(int64(len(e.state.Users)))
}

// attach registers a channel under a user and cancels any pending grace
// eviction.
func (e *Engine) attach(user *zone.User, conn *Conn) {
	conn.user = user
	e.userConns[user.UserID] = append(e.userConns[user.UserID], conn)
	if cancel, ok := e.graceCancel[user.UserID]; ok {
		cancel()
		delete(e.graceCancel, user.UserID)
	}
	e.gaugeConns.Add(1)
}

// detach unregisters a channel; the user record is untouched.
func (e *Engine) detach(user *zone.User, conn *Conn) {
	conns := e.userConns[user.UserID]
	for i, c := range conns {
		if c == conn {
			e.userConns[user.UserID] = append(conns[:i], conns[i+1:]...)
			e.gaugeConns.Add(-1)
			break
		}
	}
	if len(e.userConns[user.UserID]) == 0 {
		delete(e.userConns, user.UserID)
	}
}

func (e *Engine) isOrphaned(user *zone.User) bool {
	return len(e.userConns[user.UserID]) == 0
}

// handleClose processes a transport closure. Clean and server-intentional
// codes evict immediately; anything else starts the reconnection grace
// timer, absorbing brief network blips without presence flicker.
func (e *Engine) handleClose(note CloseNote) {
	user := note.Conn.user
	if user == nil {
		return
	}
	e.detach(user, note.Conn)

	if protocol.CleanClose(note.Code) || note.Code >= protocol.CloseRejected {
		e.evict(user)
		return
	}
	if !e.isOrphaned(user) {
		return
	}

	if cancel, ok := e.graceCancel[user.UserID]; ok {
		cancel()
	}
	id := user.UserID
	e.graceCancel[id] = e.schedule(e.cfg.ReconnectGrace(), func() {
		delete(e.graceCancel, id)
		if u, ok := e.state.Users[id]; ok && e.isOrphaned(u) {
			e.evict(u)
		}
	})
}

// evict removes the user from all live structures and revokes its token.
// A "leave" is broadcast only if the user had been visible.
func (e *Engine) evict(user *zone.User) {
	if _, present := e.state.Users[user.UserID]; present && user.Name != "" {
		e.sendAll(protocol.LeaveMsg{Type: protocol.KindLeave, UserID: user.UserID})
	}
	delete(e.state.Users, user.UserID)
	delete(e.userNet, user.UserID)
	delete(e.skipVotes, user.UserID)
	if cancel, ok := e.graceCancel[user.UserID]; ok {
		cancel()
		delete(e.graceCancel, user.UserID)
	}
	for _, c := range e.userConns[user.UserID] {
		c.user = nil
		e.gaugeConns.Add(-1)
	}
	delete(e.userConns, user.UserID)
	if token, ok := e.userTokens[user.UserID]; ok {
		delete(e.tokens, token)
		delete(e.userTokens, user.UserID)
	}
	e.gaugeUsers.Store(int64(len(e.state.Users)))
}

func clamp(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
