// Package countdown runs cancellable per-channel countdowns. A countdown
// only notifies; it never mutates session state.
package countdown

import (
	"context"
	"sync"
	"time"

	"github.com/victornm/harrow/internal/domain"
	"github.com/victornm/harrow/internal/errors"
	"github.com/victornm/harrow/internal/event"
)

// Ticker abstracts time.Ticker so tests can drive ticks by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

type Config struct {
	EventBus *event.Bus
	// Unit is the wall-clock length of one time unit. Defaults to a second.
	Unit time.Duration
	// NewTickerFunc defaults to a time.Ticker.
	NewTickerFunc func(d time.Duration) Ticker
}

// Scheduler owns at most one running countdown per channel. Cancellation is
// cooperative: each tick first checks the liveness callback, so at most one
// stray tick can fire after the owning session disappears.
type Scheduler struct {
	eb        *event.Bus
	unit      time.Duration
	newTicker func(d time.Duration) Ticker

	mu      sync.Mutex
	running map[string]chan struct{}
}

func New(c Config) *Scheduler {
	unit := c.Unit
	if unit == 0 {
		unit = time.Second
	}

	newTicker := c.NewTickerFunc
	if newTicker == nil {
		newTicker = func(d time.Duration) Ticker {
			return realTicker{t: time.NewTicker(d)}
		}
	}

	return &Scheduler{
		eb:        c.EventBus,
		unit:      unit,
		newTicker: newTicker,
		running:   make(map[string]chan struct{}),
	}
}

// Start launches a countdown of the given whole time units bound to the
// channel. alive is consulted before every tick; once it reports false the
// countdown stops silently.
func (s *Scheduler) Start(channelID string, units int, alive func(channelID string) bool) error {
	s.mu.Lock()
	if _, ok := s.running[channelID]; ok {
		s.mu.Unlock()
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("countdown already running for channel %s", channelID))
	}
	stop := make(chan struct{})
	s.running[channelID] = stop
	s.mu.Unlock()

	go s.run(channelID, units, alive, stop)
	return nil
}

func (s *Scheduler) run(channelID string, units int, alive func(string) bool, stop chan struct{}) {
	defer s.remove(channelID, stop)

	t := s.newTicker(s.unit)
	defer t.Stop()

	for remaining := units - 1; ; remaining-- {
		select {
		case <-stop:
			return
		case <-t.C():
		}

		if !alive(channelID) {
			return
		}

		if remaining <= 0 {
			s.eb.Publish(context.Background(), domain.EventTimerExpired{ChannelID: channelID})
			return
		}

		s.eb.Publish(context.Background(), domain.EventTimerTick{
			ChannelID: channelID,
			Remaining: remaining,
		})
	}
}

// Stop halts the channel's countdown, if one is running. Used on shutdown;
// normal teardown happens through the liveness check.
func (s *Scheduler) Stop(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stop, ok := s.running[channelID]; ok {
		close(stop)
		delete(s.running, channelID)
	}
}

// remove releases the channel's slot, but only if it still belongs to this
// run: a stopped countdown must not free a successor's slot.
func (s *Scheduler) remove(channelID string, stop chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running[channelID] == stop {
		delete(s.running, channelID)
	}
}
