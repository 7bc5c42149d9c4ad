package room

import (
	"context"
	"time"

	"github.com/dkeye/danmaku/internal/core"
	"github.com/dkeye/danmaku/internal/domain"
)

// roster is the set of audience ids seen so far. It only grows.
type roster struct {
	known    map[domain.UserID]struct{}
	failures int
}

func newRoster() *roster {
	return &roster{known: make(map[domain.UserID]struct{})}
}

// absorb adds ids to the known set and returns the ones not seen before,
// in fetch order. The very first non-empty page is a baseline and reports
// nothing.
func (r *roster) absorb(ids []domain.UserID) []domain.UserID {
	baseline := len(r.known) == 0
	fresh := []domain.UserID{}
	for _, id := range ids {
		if _, ok := r.known[id]; ok {
			continue
		}
		r.known[id] = struct{}{}
		if !baseline {
			fresh = append(fresh, id)
		}
	}
	return fresh
}

func (r *roster) size() int { return len(r.known) }

// fetchFans polls the first roster page off the loop. Whatever the
// outcome, the next poll is scheduled when the result comes back.
func (s *Service) fetchFans() {
	poll := &s.timers[timerPoll]
	poll.stop()
	gen := poll.gen

	host := s.Info().Anchor.ID
	if s.deps.Fans == nil || host == 0 {
		s.logger.Warn().Int64("host", int64(host)).Msg("fans polling disabled: no source or host")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.FetchTimeout)
	go func() {
		defer cancel()
		page, err := s.deps.Fans.FetchPage(ctx, host, 1)
		s.post(func() { s.onFans(gen, page, err) })
	}()
}

func (s *Service) onFans(gen uint64, page *domain.FansPage, err error) {
	poll := &s.timers[timerPoll]
	if poll.gen != gen || s.terminated.Load() {
		return
	}
	poll.reset(s.post, s.opts.FansPollInterval, s.fetchFans)

	if err != nil {
		s.roster.failures++
		s.logger.Warn().Err(err).Int("consecutive_failures", s.roster.failures).Msg("fans fetch failed")
		return
	}
	s.roster.failures = 0
	if page == nil {
		page = &domain.FansPage{}
	}

	update := domain.FansUpdate{
		Time:   time.Now(),
		Total:  page.Total,
		NewIDs: s.roster.absorb(page.IDs),
	}
	s.logger.Debug().Int64("total", update.Total).Int("new", len(update.NewIDs)).Int("known", s.roster.size()).Msg("fans polled")
	s.bus.Publish(core.FansEvent{Update: update})
}
