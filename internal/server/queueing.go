package server

import (
	"fmt"
	"math"

	"zone.camp/internal/media"
	"zone.camp/internal/protocol"
	"zone.camp/internal/zone"
)

// admitMedia applies the admission policy in order; the first failing check
// aborts with a targeted status and no mutation.
func (e *Engine) admitMedia(user *zone.User, netID string, m zone.Media, banger bool) {
	unthrottled := e.eventMode && (user.HasTag("dj") || user.HasTag("admin"))

	if e.eventMode && !unthrottled {
		e.statusCode(protocol.ErrAdmission, "zone is in event mode, only djs may queue", user)
		return
	}

	for _, queued := range e.playback.Queue() {
		if zone.MediaEquals(queued.Media, m) {
			e.statusCode(protocol.ErrAdmission, fmt.Sprintf("%q is already queued", queued.Media.Title), user)
			return
		}
	}

	if !banger && !unthrottled {
		count := 0
		for _, queued := range e.playback.Queue() {
			if queued.Info.Origin == netID {
				count++
			}
		}
		if count >= e.cfg.PerUserQueueLimit {
			e.statusCode(protocol.ErrAdmission, fmt.Sprintf("you already have %d items in the queue", count), user)
			return
		}
	}

	e.playback.QueueMedia(m, zone.QueueInfo{UserID: user.UserID, Origin: netID, Banger: banger})
}

// admitLater re-submits an async resolution result to the writer loop. The
// submitter may have left during the lookup; the admission is dropped then.
func (e *Engine) admitLater(userID zone.UserID, netID string, m zone.Media, banger bool) {
	e.submit(func() {
		user, ok := e.state.Users[userID]
		if !ok {
			return
		}
		e.admitMedia(user, netID, m, banger)
	})
}

func (e *Engine) resolutionFailed(userID zone.UserID, err error) {
	e.submit(func() {
		if user, ok := e.state.Users[userID]; ok {
			e.statusCode(protocol.ErrResolution, "couldn't find that media", user)
		}
		e.log.Printf("media resolve: %v", err)
	})
}

func (e *Engine) queueByID(user *zone.User, netID, id string) {
	if e.provider == nil {
		e.statusCode(protocol.ErrInternal, "media queueing is not available", user)
		return
	}
	resolver := e.resolver()
	userID := user.UserID
	go func() {
		ctx, cancel := resolveCtx()
		defer cancel()
		m, err := resolver.Resolve(ctx, id)
		if err != nil {
			e.resolutionFailed(userID, err)
			return
		}
		e.admitLater(userID, netID, m, false)
	}()
}

func (e *Engine) queueByPath(user *zone.User, netID, path string) {
	if e.library == nil {
		e.statusCode(protocol.ErrInternal, "no local library", user)
		return
	}
	m, ok := e.library.ByPath(path)
	if !ok {
		e.statusCode(protocol.ErrResolution, "no such library item", user)
		return
	}
	e.admitMedia(user, netID, m, false)
}

func (e *Engine) queueLucky(user *zone.User, netID, query string) {
	if e.provider == nil {
		e.statusCode(protocol.ErrInternal, "media queueing is not available", user)
		return
	}
	provider := e.provider
	resolver := e.resolver()
	userID := user.UserID
	go func() {
		ctx, cancel := resolveCtx()
		defer cancel()
		results, err := provider.Search(ctx, query)
		if err != nil || len(results) == 0 {
			if err == nil {
				err = fmt.Errorf("no results for %q", query)
			}
			e.resolutionFailed(userID, err)
			return
		}
		m, err := resolver.Resolve(ctx, results[0].ID)
		if err != nil {
			e.resolutionFailed(userID, err)
			return
		}
		e.admitLater(userID, netID, m, false)
	}()
}

func (e *Engine) queueBanger(user *zone.User, netID string) {
	if e.provider == nil {
		e.statusCode(protocol.ErrInternal, "media queueing is not available", user)
		return
	}
	provider := e.provider
	userID := user.UserID
	go func() {
		ctx, cancel := resolveCtx()
		defer cancel()
		m, err := provider.Banger(ctx)
		if err != nil {
			e.resolutionFailed(userID, err)
			return
		}
		e.admitLater(userID, netID, m, true)
	}()
}

// resolver wraps the provider with the metadata cache when one is open.
func (e *Engine) resolver() media.Resolver {
	if e.cache != nil {
		return &media.CachingResolver{Inner: e.provider, Cache: e.cache}
	}
	return e.provider
}

// voteSkip registers one vote per distinct user against the current item's
// source identity. Votes reset whenever the current item changes.
func (e *Engine) voteSkip(user *zone.User, current zone.QueueItem) {
	if e.skipSource != current.Media.Source() {
		// Stale vote set from a previous item.
		e.resetVotes(current)
	}
	e.skipVotes[user.UserID] = struct{}{}

	votes := len(e.skipVotes)
	target := int(math.Ceil(float64(len(e.state.Users)) * e.cfg.VoteSkipThreshold))
	if target < 1 {
		target = 1
	}
	if votes >= target {
		e.forceSkip("voted to skip " + current.Media.Title)
		return
	}
	e.status(fmt.Sprintf("%d of %d votes to skip", votes, target), nil)
}

func (e *Engine) resetVotes(current zone.QueueItem) {
	e.skipVotes = map[zone.UserID]struct{}{}
	e.skipSource = current.Media.Source()
}

func (e *Engine) forceSkip(message string) {
	if message != "" {
		e.status(message, nil)
	}
	e.playback.Skip()
}
