package server

import (
	"zone.camp/internal/protocol"
	"zone.camp/internal/zone"
)

// sendConn queues one message on a single channel. A full or dead channel is
// dropped silently; one unreachable recipient never aborts delivery to the
// rest, and the transport's own closure path cleans up.
func (e *Engine) sendConn(conn *Conn, v any) {
	b := protocol.Encode(v)
	if b == nil {
		return
	}
	select {
	case conn.Out <- b:
	default:
	}
}

// sendAll fans a delta out to every attached channel. Marshals once.
func (e *Engine) sendAll(v any) {
	b := protocol.Encode(v)
	if b == nil {
		return
	}
	for _, conns := range e.userConns {
		for _, conn := range conns {
			select {
			case conn.Out <- b:
			default:
			}
		}
	}
}

// sendUser targets every channel of one user.
func (e *Engine) sendUser(user *zone.User, v any) {
	b := protocol.Encode(v)
	if b == nil {
		return
	}
	for _, conn := range e.userConns[user.UserID] {
		select {
		case conn.Out <- b:
		default:
		}
	}
}

// status sends a free-text notice, targeted when user is non-nil.
func (e *Engine) status(text string, user *zone.User) {
	e.statusCode("", text, user)
}

// statusCode tags a status with one of the protocol error codes so clients
// can classify the refusal without parsing the text.
func (e *Engine) statusCode(code, text string, user *zone.User) {
	msg := protocol.StatusMsg{Type: protocol.KindStatus, Code: code, Text: text}
	if user != nil {
		e.sendUser(user, msg)
	} else {
		e.sendAll(msg)
	}
}

// statusAdmins notifies every privileged user.
func (e *Engine) statusAdmins(text string) {
	for _, u := range e.state.Users {
		if u.HasTag("admin") {
			e.status(text, u)
		}
	}
}

// sendFullState is the one-time hand-off to a fresh or resumed connection:
// full snapshots of users, queue, blocks, echoes, and the current play
// position. Everything afterwards is minimal deltas.
func (e *Engine) sendFullState(conn *Conn) {
	users := make([]zone.User, 0, len(e.state.Users))
	for _, u := range e.state.Users {
		users = append(users, *u)
	}
	e.sendConn(conn, protocol.UsersMsg{Type: protocol.KindUsers, Users: users})
	e.sendConn(conn, protocol.QueueMsg{Type: protocol.KindQueue, Items: e.playback.Queue()})
	e.sendConn(conn, protocol.BlocksMsg{Type: protocol.KindBlocks, Cells: e.state.Cells()})
	e.sendConn(conn, protocol.EchoesMsg{Type: protocol.KindEchoes, Added: e.state.AllEchoes()})
	e.sendCurrent(conn)
}

func (e *Engine) sendCurrent(conn *Conn) {
	if item, ok := e.playback.Current(); ok {
		e.sendConn(conn, protocol.PlayMsg{Type: protocol.KindPlay, Item: &item, Time: e.playback.Elapsed().Milliseconds()})
	} else {
		e.sendConn(conn, protocol.PlayMsg{Type: protocol.KindPlay})
	}
}
