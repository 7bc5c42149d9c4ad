package room

import (
	"time"

	"github.com/dkeye/danmaku/internal/domain"
	"github.com/rs/zerolog/log"
)

type giftKey struct {
	sender domain.UserID
	gift   int64
}

type giftEntry struct {
	msg   domain.Message // owned copy; msg.Gift.Count is the running total
	timer timer
}

// aggregator debounces repeated gifts per (sender, gift) and emits one
// bundle once a key has been quiet for the configured period.
// It is owned by the session loop.
type aggregator struct {
	quiet   time.Duration
	post    func(func()) bool
	emit    func(domain.Message)
	entries map[giftKey]*giftEntry
}

func newAggregator(quiet time.Duration, post func(func()) bool, emit func(domain.Message)) *aggregator {
	return &aggregator{
		quiet:   quiet,
		post:    post,
		emit:    emit,
		entries: make(map[giftKey]*giftEntry),
	}
}

func (a *aggregator) add(m domain.Message) {
	if m.Gift == nil {
		return
	}
	key := giftKey{gift: m.Gift.ID}
	if m.User != nil {
		key.sender = m.User.ID
	}

	e, ok := a.entries[key]
	if ok {
		e.msg.Gift.Count += m.Gift.Count
	} else {
		e = &giftEntry{msg: m.Clone()}
		a.entries[key] = e
	}
	e.timer.reset(a.post, a.quiet, func() { a.fire(key, e) })
}

func (a *aggregator) fire(key giftKey, e *giftEntry) {
	if a.entries[key] != e {
		return
	}
	delete(a.entries, key)
	a.emit(e.msg)
}

// flush emits every pending bundle immediately.
func (a *aggregator) flush() {
	if len(a.entries) == 0 {
		return
	}
	log.Debug().Str("module", "app.room.gift").Int("pending", len(a.entries)).Msg("flushing gift bundles")
	for key, e := range a.entries {
		e.timer.stop()
		delete(a.entries, key)
		a.emit(e.msg)
	}
}

func (a *aggregator) pending() int { return len(a.entries) }
