package room

import (
	"sync"

	"github.com/dkeye/danmaku/internal/core"
	"github.com/rs/zerolog/log"
)

// PublishResult reports delivery stats/backpressure for one event.
type PublishResult struct {
	SentTo  int
	Dropped int
}

type subscriber struct {
	ch     chan core.Event
	topics map[core.Topic]struct{} // nil means everything
}

func (s *subscriber) wants(e core.Event) bool {
	if s.topics == nil {
		return true
	}
	for _, t := range e.Topics() {
		if _, ok := s.topics[t]; ok {
			return true
		}
	}
	return false
}

// Bus fans session events out to subscribers. Delivery never blocks the
// publisher: a subscriber with a full buffer misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Subscribe returns a channel receiving every event published on any of
// the given topics, or on all topics when none are given. The channel is
// closed by cancel or when the bus closes. Each event is delivered at most
// once per subscriber even when it matches several topics.
func (b *Bus) Subscribe(buffer int, topics ...core.Topic) (<-chan core.Event, func()) {
	sub := &subscriber{ch: make(chan core.Event, buffer)}
	if len(topics) > 0 {
		sub.topics = make(map[core.Topic]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel
}

func (b *Bus) Publish(e core.Event) PublishResult {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := PublishResult{}
	for _, sub := range b.subs {
		if !sub.wants(e) {
			continue
		}
		select {
		case sub.ch <- e:
			res.SentTo++
		default:
			res.Dropped++
		}
	}
	if res.Dropped > 0 {
		log.Debug().Str("module", "app.room.bus").Int("sent_to", res.SentTo).Int("dropped", res.Dropped).Msg("publish result")
	}
	return res
}

// Close closes every subscriber channel. Later subscriptions get a closed
// channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
