package room

import "time"

type timerKind int

const (
	timerReconnect timerKind = iota
	timerHeartbeat
	timerPoll
	timerKinds
)

func (k timerKind) String() string {
	switch k {
	case timerReconnect:
		return "reconnect"
	case timerHeartbeat:
		return "heartbeat"
	case timerPoll:
		return "poll"
	default:
		return "unknown"
	}
}

// timer is a single cancellable callback that always runs on the session
// loop. Every stop or reset bumps gen, so a fire that was already queued
// on the loop when it got cancelled is discarded there.
// Only the loop goroutine touches a timer.
type timer struct {
	t   *time.Timer
	gen uint64
}

func (t *timer) reset(post func(func()) bool, d time.Duration, fn func()) {
	t.stop()
	gen := t.gen
	t.t = time.AfterFunc(d, func() {
		post(func() {
			if t.gen != gen {
				return
			}
			t.t = nil
			fn()
		})
	})
}

func (t *timer) stop() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.gen++
}

func (t *timer) pending() bool { return t.t != nil }
