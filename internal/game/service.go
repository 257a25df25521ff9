// Package game implements channel-scoped group games with streak tiers and
// the consumable high-risk modifier.
package game

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/victornm/harrow/internal/domain"
	"github.com/victornm/harrow/internal/errors"
	"github.com/victornm/harrow/internal/event"
	"github.com/victornm/harrow/internal/registry"
	"github.com/victornm/harrow/internal/scoring"
)

// Store persists per-player stats when a game ends.
type Store interface {
	SaveGameStats(ctx context.Context, g *domain.GroupGame) error
}

type Config struct {
	Registry *registry.Registry
	EventBus *event.Bus
	Store    Store
}

type Service struct {
	reg   *registry.Registry
	eb    *event.Bus
	store Store

	mu sync.Mutex
}

func NewService(c Config) *Service {
	return &Service{
		reg:   c.Registry,
		eb:    c.EventBus,
		store: c.Store,
	}
}

// Start opens a group game in the channel. One game per channel.
func (s *Service) Start(ctx context.Context, channelID, modeKey string) (*domain.GroupGame, error) {
	mode, ok := domain.GameModeByKey(modeKey)
	if !ok {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown game mode %q", modeKey))
	}

	g := &domain.GroupGame{
		ChannelID: channelID,
		Mode:      mode,
		Players:   make(map[string]*domain.GamePlayer),
		Active:    true,
	}

	if err := s.reg.RegisterGame(channelID, g); err != nil {
		return nil, err
	}

	return g, nil
}

// Join seats the user in the channel's game. Joining twice is a no-op that
// returns the existing player.
func (s *Service) Join(ctx context.Context, channelID string, user domain.User) (*domain.GamePlayer, error) {
	g, ok := s.reg.Game(channelID)
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no active game in channel %s", channelID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := g.Players[user.ID]
	if !ok {
		p = &domain.GamePlayer{
			UserID:       user.ID,
			DisplayName:  user.DisplayName,
			HighRiskUses: domain.HighRiskUses,
		}
		g.Players[user.ID] = p
	}

	out := *p
	return &out, nil
}

// Answer scores the player's answer and publishes the updated standing.
func (s *Service) Answer(ctx context.Context, channelID, userID string, correct bool) (*domain.GamePlayer, error) {
	g, ok := s.reg.Game(channelID)
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no active game in channel %s", channelID))
	}

	s.mu.Lock()
	p, ok := g.Players[userID]
	if !ok {
		s.mu.Unlock()
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("user %s has not joined the game", userID))
	}

	delta := scoring.ApplyGroupAnswer(p, correct)
	out := *p
	s.mu.Unlock()

	s.eb.Publish(ctx, domain.EventGameScored{
		ChannelID: channelID,
		Delta:     delta.String(),
		Player:    out,
	})

	return &out, nil
}

// InvokeHighRisk arms the player's next answer to triple its delta, win or
// lose, consuming one of the limited uses.
func (s *Service) InvokeHighRisk(ctx context.Context, channelID, userID string) (*domain.GamePlayer, error) {
	g, ok := s.reg.Game(channelID)
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no active game in channel %s", channelID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := g.Players[userID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("user %s has not joined the game", userID))
	}

	if p.HighRisk {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("high risk is already armed"))
	}
	if p.HighRiskUses <= 0 {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no high risk uses left"))
	}

	p.HighRiskUses--
	p.HighRisk = true

	out := *p
	return &out, nil
}

// Standings returns the game's players ordered by score descending.
func (s *Service) Standings(ctx context.Context, channelID string) ([]domain.GamePlayer, error) {
	g, ok := s.reg.Game(channelID)
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no active game in channel %s", channelID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return standings(g), nil
}

// End closes the game, persists per-player stats and publishes the final
// standings. A persistence failure does not block teardown.
func (s *Service) End(ctx context.Context, channelID string) ([]domain.GamePlayer, error) {
	g, ok := s.reg.Game(channelID)
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no active game in channel %s", channelID))
	}

	s.mu.Lock()
	g.Active = false
	final := standings(g)
	s.mu.Unlock()

	if err := s.store.SaveGameStats(ctx, g); err != nil {
		slog.ErrorContext(ctx, "game: persist stats failed",
			"channel", channelID,
			"error", err,
		)
	}

	s.reg.RemoveGame(channelID)

	s.eb.Publish(ctx, domain.EventGameEnded{
		ChannelID: channelID,
		Standings: final,
	})

	return final, nil
}

func standings(g *domain.GroupGame) []domain.GamePlayer {
	players := make([]domain.GamePlayer, 0, len(g.Players))
	for _, p := range g.Players {
		players = append(players, *p)
	}
	sort.Slice(players, func(i, j int) bool {
		return players[i].Score.GreaterThan(players[j].Score)
	})
	return players
}
