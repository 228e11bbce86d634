// Package playback owns queue admission mechanics, current-item timing, and
// automatic advancement. It is not safe for concurrent use: the owning
// engine calls it only from its single writer loop, and timer callbacks are
// marshaled back onto that loop by the injected Scheduler.
package playback

import (
	"time"

	"zone.camp/internal/zone"
)

// Scheduler arms one-shot deadline timers. The returned cancel func stops a
// timer that has not fired; a fire that races a cancel is ignored via an
// internal generation check, so Schedule implementations only need to run fn
// on the engine loop.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) (cancel func())
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func(d time.Duration, fn func()) func()

func (f SchedulerFunc) Schedule(d time.Duration, fn func()) func() { return f(d, fn) }

// State is the persistable shape of the scheduler: queue contents, current
// item, and elapsed-at-save.
type State struct {
	Current    *zone.QueueItem
	Queue      []zone.QueueItem
	TimeMS     int64
	NextItemID int
}

// Playback is the queue/current-item state machine. It emits four lifecycle
// signals (queue, play, unqueue, stop) to listeners registered at startup;
// listeners run synchronously in registration order.
type Playback struct {
	startDelay time.Duration
	sched      Scheduler
	now        func() time.Time

	queue      []zone.QueueItem
	current    *zone.QueueItem
	startedAt  time.Time
	nextItemID int

	timerGen    uint64
	cancelTimer func()

	onQueue   []func(zone.QueueItem)
	onUnqueue []func(zone.QueueItem)
	onPlay    []func(zone.QueueItem, time.Duration)
	onStop    []func()
}

func New(startDelay time.Duration, sched Scheduler, now func() time.Time) *Playback {
	if now == nil {
		now = time.Now
	}
	return &Playback{
		startDelay: startDelay,
		sched:      sched,
		now:        now,
		nextItemID: 1,
	}
}

// Listener registration. Call before the engine loop starts.

func (p *Playback) OnQueue(fn func(zone.QueueItem))                 { p.onQueue = append(p.onQueue, fn) }
func (p *Playback) OnUnqueue(fn func(zone.QueueItem))               { p.onUnqueue = append(p.onUnqueue, fn) }
func (p *Playback) OnPlay(fn func(zone.QueueItem, time.Duration))   { p.onPlay = append(p.onPlay, fn) }
func (p *Playback) OnStop(fn func())                                { p.onStop = append(p.onStop, fn) }

// Queue returns a copy of the pending items in play order.
func (p *Playback) Queue() []zone.QueueItem {
	return append([]zone.QueueItem(nil), p.queue...)
}

// Current returns the playing item, if any.
func (p *Playback) Current() (zone.QueueItem, bool) {
	if p.current == nil {
		return zone.QueueItem{}, false
	}
	return *p.current, true
}

// Elapsed reports how far into the current item playback is.
func (p *Playback) Elapsed() time.Duration {
	if p.current == nil {
		return 0
	}
	return p.now().Sub(p.startedAt)
}

// QueueMedia admits media at the tail and returns the new item. Policy
// checks (duplicates, quotas, event mode) belong to the caller; admission
// here only assigns the next monotonic item id and arms the start-delay
// timer when the machine was idle and unarmed.
func (p *Playback) QueueMedia(media zone.Media, info zone.QueueInfo) zone.QueueItem {
	item := zone.QueueItem{ItemID: p.nextItemID, Media: media, Info: info}
	p.nextItemID++
	p.queue = append(p.queue, item)

	for _, fn := range p.onQueue {
		fn(item)
	}

	if p.current == nil && p.cancelTimer == nil {
		p.armTimer(p.startDelay, p.playNext)
	}
	return item
}

// Unqueue removes a pending item without playing it.
func (p *Playback) Unqueue(itemID int) (zone.QueueItem, bool) {
	for i, item := range p.queue {
		if item.ItemID == itemID {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			for _, fn := range p.onUnqueue {
				fn(item)
			}
			if len(p.queue) == 0 && p.current == nil {
				p.disarmTimer()
			}
			return item, true
		}
	}
	return zone.QueueItem{}, false
}

// Skip retires the current item (or the pending start delay) and advances
// immediately. Harmless when idle with an empty queue.
func (p *Playback) Skip() {
	p.disarmTimer()
	p.playNext()
}

// playNext pops the queue head into current, or stops when empty.
func (p *Playback) playNext() {
	wasPlaying := p.current != nil
	p.current = nil

	if len(p.queue) == 0 {
		if wasPlaying {
			for _, fn := range p.onStop {
				fn()
			}
		}
		return
	}

	item := p.queue[0]
	p.queue = p.queue[1:]
	p.current = &item
	p.startedAt = p.now()

	for _, fn := range p.onPlay {
		fn(item, 0)
	}

	p.armTimer(time.Duration(item.Media.Duration)*time.Millisecond, p.playNext)
}

// CopyState snapshots the scheduler for persistence.
func (p *Playback) CopyState() State {
	s := State{
		Queue:      append([]zone.QueueItem(nil), p.queue...),
		NextItemID: p.nextItemID,
	}
	if p.current != nil {
		cur := *p.current
		s.Current = &cur
		s.TimeMS = p.Elapsed().Milliseconds()
	}
	return s
}

// LoadState restores a saved scheduler. A restored current item resumes at
// its saved elapsed offset and the end-of-item timer is re-armed with the
// remaining duration; if the item had already run out, it advances on the
// next timer fire.
func (p *Playback) LoadState(s State) {
	p.disarmTimer()
	p.queue = append([]zone.QueueItem(nil), s.Queue...)
	p.current = nil
	if s.NextItemID > p.nextItemID {
		p.nextItemID = s.NextItemID
	}

	if s.Current != nil {
		cur := *s.Current
		p.current = &cur
		p.startedAt = p.now().Add(-time.Duration(s.TimeMS) * time.Millisecond)

		remaining := time.Duration(cur.Media.Duration)*time.Millisecond - p.Elapsed()
		if remaining < 0 {
			remaining = 0
		}
		for _, fn := range p.onPlay {
			fn(cur, p.Elapsed())
		}
		p.armTimer(remaining, p.playNext)
	} else if len(p.queue) > 0 {
		p.armTimer(p.startDelay, p.playNext)
	}
}

func (p *Playback) armTimer(d time.Duration, fn func()) {
	p.disarmTimer()
	p.timerGen++
	gen := p.timerGen
	cancel := p.sched.Schedule(d, func() {
		if p.timerGen != gen {
			return
		}
		p.cancelTimer = nil
		fn()
	})
	p.cancelTimer = cancel
}

func (p *Playback) disarmTimer() {
	p.timerGen++
	if p.cancelTimer != nil {
		p.cancelTimer()
		p.cancelTimer = nil
	}
}
