// Package registry owns the process-wide table of live sessions. It is
// constructed once at startup and handed to the router and the session
// services; nothing here is ambient package state.
package registry

import (
	"sync"

	"github.com/victornm/harrow/internal/domain"
	"github.com/victornm/harrow/internal/errors"
)

// Registry indexes live sessions by their channel id, one table per session
// kind, plus the user-to-challenge bindings used by the relay router. Each
// kind allows at most one session per channel; kinds do not exclude each
// other. All methods are atomic.
type Registry struct {
	mu         sync.RWMutex
	challenges map[string]*domain.Challenge
	games      map[string]*domain.GroupGame
	solos      map[string]*domain.SoloSession

	// bindings maps a user id to the channel of their bound active challenge.
	bindings map[string]string
}

func New() *Registry {
	return &Registry{
		challenges: make(map[string]*domain.Challenge),
		games:      make(map[string]*domain.GroupGame),
		solos:      make(map[string]*domain.SoloSession),
		bindings:   make(map[string]string),
	}
}

func (r *Registry) RegisterChallenge(channelID string, c *domain.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.challenges[channelID]; ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("challenge already active in channel %s", channelID))
	}
	r.challenges[channelID] = c
	return nil
}

func (r *Registry) Challenge(channelID string) (*domain.Challenge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.challenges[channelID]
	return c, ok
}

func (r *Registry) RemoveChallenge(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.challenges, channelID)
}

func (r *Registry) RegisterGame(channelID string, g *domain.GroupGame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.games[channelID]; ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("game already active in channel %s", channelID))
	}
	r.games[channelID] = g
	return nil
}

func (r *Registry) Game(channelID string) (*domain.GroupGame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.games[channelID]
	return g, ok
}

func (r *Registry) RemoveGame(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.games, channelID)
}

func (r *Registry) RegisterSolo(channelID string, s *domain.SoloSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.solos[channelID]; ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("solo session already active in channel %s", channelID))
	}
	r.solos[channelID] = s
	return nil
}

func (r *Registry) Solo(channelID string) (*domain.SoloSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.solos[channelID]
	return s, ok
}

func (r *Registry) RemoveSolo(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.solos, channelID)
}

// Bind records the user's currently active challenge channel.
func (r *Registry) Bind(userID, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bindings[userID] = channelID
}

// Binding returns the channel the user is bound to, if any.
func (r *Registry) Binding(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.bindings[userID]
	return ch, ok
}

func (r *Registry) Unbind(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.bindings, userID)
}
