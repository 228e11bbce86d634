package server

import (
	"fmt"
	"time"

	"zone.camp/internal/protocol"
	"zone.camp/internal/zone"
)

// handleCommand dispatches privileged operations. Non-admin callers get a
// targeted status and nothing else happens.
func (e *Engine) handleCommand(user *zone.User, name string, args []string) {
	if !user.HasTag("admin") {
		e.statusCode(protocol.ErrNoPermission, "not authorised", user)
		return
	}

	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch name {
	case "ban":
		e.cmdBan(user, arg(0), arg(1))
	case "skip":
		if current, ok := e.playback.Current(); ok {
			e.forceSkip("admin skipped " + current.Media.Title)
		}
	case "mode":
		e.eventMode = arg(0) == "event"
		e.status(fmt.Sprintf("event mode: %v", e.eventMode), nil)
	case "dj-add":
		e.cmdDJAdd(user, arg(0))
	case "dj-del":
		e.cmdDJDel(user, arg(0))
	default:
		e.status(fmt.Sprintf("no command %q", name), user)
	}
}

// cmdBan resolves a display name to the network identity behind it, records
// the ban, and force-closes every channel of that user with the ban close
// code so the client knows not to reconnect.
func (e *Engine) cmdBan(admin *zone.User, name, reason string) {
	target, ok := e.state.UserByName(name)
	if !ok {
		e.status(fmt.Sprintf("no user named %q", name), admin)
		return
	}
	netID, ok := e.userNet[target.UserID]
	if !ok {
		e.status(fmt.Sprintf("no network identity for %q", name), admin)
		return
	}

	e.bans[netID] = Ban{
		NetID:  netID,
		Bannee: target.Name,
		Banner: admin.Name,
		Reason: reason,
		Date:   time.Now().UTC().Format(time.RFC3339),
	}
	e.status(target.Name+" is banned", nil)
	e.requestSave()

	for _, conn := range e.userConns[target.UserID] {
		if conn.ForceClose != nil {
			conn.ForceClose(protocol.CloseBanned, "banned")
		}
	}
}

func (e *Engine) cmdDJAdd(admin *zone.User, name string) {
	target, ok := e.state.UserByName(name)
	if !ok {
		e.status(fmt.Sprintf("no user named %q", name), admin)
		return
	}
	if !target.AddTag("dj") {
		e.status(target.Name+" is already a dj", admin)
		return
	}
	e.broadcastTags(target)
	e.status("you are a dj", target)
	e.statusAdmins(target.Name + " is a dj")
}

func (e *Engine) cmdDJDel(admin *zone.User, name string) {
	target, ok := e.state.UserByName(name)
	if !ok {
		e.status(fmt.Sprintf("no user named %q", name), admin)
		return
	}
	if !target.RemoveTag("dj") {
		e.status(target.Name+" isn't a dj", admin)
		return
	}
	e.broadcastTags(target)
	e.status("no longer a dj", target)
	e.statusAdmins(target.Name + " is no longer a dj")
}
