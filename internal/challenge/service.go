// Package challenge implements the pairwise challenge lifecycle:
// Proposed -> Active -> Completed, with Declined as the alternate terminal.
package challenge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/harrow/internal/answer"
	"github.com/victornm/harrow/internal/domain"
	"github.com/victornm/harrow/internal/errors"
	"github.com/victornm/harrow/internal/event"
	"github.com/victornm/harrow/internal/registry"
	"github.com/victornm/harrow/internal/scoring"
)

const (
	// offerTimeoutUnits is how long a proposal stays open before it is
	// treated as an implicit decline.
	offerTimeoutUnits = 300
	// graceDelayUnits is the delay before the private channel is deleted
	// after completion, so final messages can be read.
	graceDelayUnits = 10
)

// Provisioner is the channel-provisioning collaborator.
type Provisioner interface {
	CreatePrivateChannel(ctx context.Context, participants []domain.User) (string, error)
	DeleteChannel(ctx context.Context, channelID string) error
}

// Store persists finished challenge results.
type Store interface {
	SaveChallengeResult(ctx context.Context, c *domain.Challenge, winnerID string) error
}

// Endpoints provisions the players' relay endpoints on acceptance.
type Endpoints interface {
	GetOrProvisionEndpoint(ctx context.Context, userID, communityID string) (*domain.RelayEndpoint, error)
}

// Timer starts a per-channel countdown that stops on its own once alive
// reports the channel's session gone.
type Timer interface {
	Start(channelID string, units int, alive func(channelID string) bool) error
}

type Config struct {
	Registry    *registry.Registry
	EventBus    *event.Bus
	Provisioner Provisioner
	Store       Store
	Endpoints   Endpoints
	Timer       Timer
	// Unit is the wall-clock length of one time unit. Defaults to a second.
	Unit time.Duration
}

type Service struct {
	reg         *registry.Registry
	eb          *event.Bus
	provisioner Provisioner
	store       Store
	endpoints   Endpoints
	timer       Timer
	unit        time.Duration

	// mu serializes lifecycle and scoring mutations so every public
	// operation is one atomic step.
	mu      sync.Mutex
	pending map[string]*domain.Challenge
	// users and communities carry the proposal context needed at accept
	// time, keyed by challenge id like pending.
	users       map[string][2]domain.User
	communities map[string]string
}

func NewService(c Config) *Service {
	unit := c.Unit
	if unit == 0 {
		unit = time.Second
	}

	return &Service{
		reg:         c.Registry,
		eb:          c.EventBus,
		provisioner: c.Provisioner,
		store:       c.Store,
		endpoints:   c.Endpoints,
		timer:       c.Timer,
		unit:        unit,
		pending:     make(map[string]*domain.Challenge),
		users:       make(map[string][2]domain.User),
		communities: make(map[string]string),
	}
}

type ProposeRequest struct {
	Challenger      domain.User
	Challenged      domain.User
	ConfigName      string
	ResourceCode    string
	OriginChannelID string
	CommunityID     string
}

// Propose creates a challenge in Proposed state. No channel or registry
// entry exists yet; the offer expires after a fixed timeout if neither
// accepted nor declined.
func (s *Service) Propose(ctx context.Context, req ProposeRequest) (*domain.Challenge, error) {
	cfg, ok := domain.ChallengeConfigByName(req.ConfigName)
	if !ok {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown challenge type %q", req.ConfigName))
	}

	if req.Challenger.ID == req.Challenged.ID {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("user %s cannot challenge themselves", req.Challenger.ID))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Internal(err)
	}

	c := &domain.Challenge{
		ID:              id.String(),
		ChallengerID:    req.Challenger.ID,
		ChallengedID:    req.Challenged.ID,
		ConfigName:      req.ConfigName,
		Config:          cfg,
		ResourceCode:    req.ResourceCode,
		OriginChannelID: req.OriginChannelID,
		Players:         make(map[string]*domain.PlayerScoreboard),
		State:           domain.ChallengeProposed,
		CreatedAt:       time.Now(),
	}

	s.mu.Lock()
	s.pending[c.ID] = c
	s.users[c.ID] = [2]domain.User{req.Challenger, req.Challenged}
	s.communities[c.ID] = req.CommunityID
	s.mu.Unlock()

	time.AfterFunc(offerTimeoutUnits*s.unit, func() { s.expire(c.ID) })

	return snapshot(c), nil
}

// expire drops a proposal nobody answered. Nothing was allocated, so there
// is nothing to tear down.
func (s *Service) expire(challengeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.pending[challengeID]
	if !ok {
		return
	}
	c.State = domain.ChallengeDeclined
	s.forget(challengeID)
}

// Accept activates the challenge. Only the challenged user may accept.
// Channel creation happens before any registration, so a provisioning
// failure leaves no partial state.
func (s *Service) Accept(ctx context.Context, challengeID, userID string) (*domain.Challenge, error) {
	s.mu.Lock()
	c, ok := s.pending[challengeID]
	if !ok {
		s.mu.Unlock()
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("challenge %s is not open", challengeID))
	}
	if c.ChallengedID != userID {
		s.mu.Unlock()
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("only the challenged player can accept"))
	}
	users := s.users[challengeID]
	community := s.communities[challengeID]
	s.mu.Unlock()

	channelID, err := s.provisioner.CreatePrivateChannel(ctx, users[:])
	if err != nil {
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("create private channel"),
			errors.WithCause(err))
	}

	// Best effort: a missing relay endpoint never blocks acceptance.
	for _, u := range users {
		if s.endpoints == nil {
			break
		}
		if _, err := s.endpoints.GetOrProvisionEndpoint(ctx, u.ID, community); err != nil {
			slog.ErrorContext(ctx, "challenge: provision endpoint failed",
				"user", u.ID,
				"error", err,
			)
		}
	}

	s.mu.Lock()
	// The proposal may have been declined, expired or accepted by a racing
	// call while the channel was being created; a closed proposal stays
	// closed, and the fresh channel is orphaned.
	if cur, ok := s.pending[challengeID]; !ok || cur != c {
		s.mu.Unlock()

		if derr := s.provisioner.DeleteChannel(ctx, channelID); derr != nil {
			slog.ErrorContext(ctx, "challenge: delete orphaned channel failed",
				"channel", channelID,
				"error", derr,
			)
		}
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("challenge %s is not open", challengeID))
	}

	c.ChannelID = channelID
	c.Players[users[0].ID] = &domain.PlayerScoreboard{UserID: users[0].ID, DisplayName: users[0].DisplayName}
	c.Players[users[1].ID] = &domain.PlayerScoreboard{UserID: users[1].ID, DisplayName: users[1].DisplayName}
	c.State = domain.ChallengeActive

	if err := s.reg.RegisterChallenge(channelID, c); err != nil {
		// Fresh channel, so an occupied key means a provisioner bug.
		c.State = domain.ChallengeProposed
		c.ChannelID = ""
		clear(c.Players)
		s.mu.Unlock()

		if derr := s.provisioner.DeleteChannel(ctx, channelID); derr != nil {
			slog.ErrorContext(ctx, "challenge: delete orphaned channel failed",
				"channel", channelID,
				"error", derr,
			)
		}
		return nil, err
	}

	s.reg.Bind(c.ChallengerID, channelID)
	s.reg.Bind(c.ChallengedID, channelID)
	s.forget(challengeID)
	out := snapshot(c)
	s.mu.Unlock()

	s.eb.Publish(ctx, domain.EventChallengeStarted{Challenge: *out})

	if c.Config.TimeLimit > 0 && s.timer != nil {
		if err := s.timer.Start(channelID, c.Config.TimeLimit, s.challengeAlive); err != nil {
			slog.ErrorContext(ctx, "challenge: start countdown failed",
				"channel", channelID,
				"error", err,
			)
		}
	}

	return out, nil
}

// Decline rejects the proposal. Only the challenged user may decline.
func (s *Service) Decline(ctx context.Context, challengeID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.pending[challengeID]
	if !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("challenge %s is not open", challengeID))
	}
	if c.ChallengedID != userID {
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("only the challenged player can decline"))
	}

	c.State = domain.ChallengeDeclined
	s.forget(challengeID)
	return nil
}

type ScoreRequest struct {
	ChannelID string
	UserID    string
	Signal    answer.Signal
	// Indirect marks answers that arrived through a relay endpoint.
	Indirect bool
}

// Score records a classified answer on the acting player's scoreboard.
// Valid only while the challenge is Active; it never changes state.
func (s *Service) Score(ctx context.Context, req ScoreRequest) (*domain.PlayerScoreboard, error) {
	if req.Signal == answer.SignalNone {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("not an answer"))
	}

	c, ok := s.reg.Challenge(req.ChannelID)
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no active challenge in channel %s", req.ChannelID))
	}

	s.mu.Lock()
	if c.State != domain.ChallengeActive {
		s.mu.Unlock()
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("challenge is %s, not active", c.State))
	}

	board, ok := c.Players[req.UserID]
	if !ok {
		s.mu.Unlock()
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("user %s is not seated in this challenge", req.UserID))
	}

	delta := scoring.ApplyChallengeAnswer(board, c.Config, req.Signal)
	out := *board
	s.mu.Unlock()

	s.eb.Publish(ctx, domain.EventChallengeScored{
		ChannelID: req.ChannelID,
		Indirect:  req.Indirect,
		Signal:    req.Signal.String(),
		Delta:     delta,
		Player:    out,
	})

	return &out, nil
}

type EndRequest struct {
	ChannelID string
	UserID    string
	// Moderator marks a caller whose privilege was already enforced by the
	// front end.
	Moderator bool
}

type EndResult struct {
	Challenge domain.Challenge
	// Winner is nil on a tie.
	Winner *domain.PlayerScoreboard
}

// End completes an active challenge: computes the winner, persists the
// result, tears down bindings and the registry entry, and schedules the
// private channel's deletion after a grace delay. A persistence failure is
// reported but does not block the transition.
func (s *Service) End(ctx context.Context, req EndRequest) (*EndResult, error) {
	channelID := req.ChannelID
	c, ok := s.reg.Challenge(channelID)
	if !ok {
		// The command may come from outside the session channel; fall back
		// to the caller's binding.
		bound, bok := s.reg.Binding(req.UserID)
		if !bok {
			return nil, errors.New(errors.CodeNotFound,
				errors.WithMessagef("no active challenge for channel %s or user %s", req.ChannelID, req.UserID))
		}
		channelID = bound
		if c, ok = s.reg.Challenge(bound); !ok {
			s.reg.Unbind(req.UserID)
			return nil, errors.New(errors.CodeNotFound,
				errors.WithMessagef("no active challenge for channel %s or user %s", req.ChannelID, req.UserID))
		}
	}

	s.mu.Lock()
	if c.State != domain.ChallengeActive {
		s.mu.Unlock()
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("challenge is %s, not active", c.State))
	}

	if !req.Moderator && !c.Seated(req.UserID) {
		s.mu.Unlock()
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("user %s is not seated in this challenge", req.UserID))
	}

	// A challenge cannot become Active without two seated players; fewer
	// here means a lifecycle bug and must be reported, not swallowed.
	if len(c.Players) < 2 {
		s.mu.Unlock()
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("challenge in channel %s has %d seated players", channelID, len(c.Players)))
	}

	winner := c.Winner()
	c.State = domain.ChallengeCompleted
	out := snapshot(c)
	s.mu.Unlock()

	var winnerID string
	var winnerCopy *domain.PlayerScoreboard
	if winner != nil {
		winnerID = winner.UserID
		w := *winner
		winnerCopy = &w
	}

	if err := s.store.SaveChallengeResult(ctx, out, winnerID); err != nil {
		slog.ErrorContext(ctx, "challenge: persist result failed",
			"channel", channelID,
			"error", err,
		)
	}

	s.reg.Unbind(c.ChallengerID)
	s.reg.Unbind(c.ChallengedID)
	s.reg.RemoveChallenge(channelID)

	s.eb.Publish(ctx, domain.EventChallengeEnded{
		Challenge: *out,
		Winner:    winnerCopy,
	})

	time.AfterFunc(graceDelayUnits*s.unit, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.provisioner.DeleteChannel(ctx, channelID); err != nil {
			slog.ErrorContext(ctx, "challenge: delete channel failed",
				"channel", channelID,
				"error", err,
			)
		}
	})

	return &EndResult{Challenge: *out, Winner: winnerCopy}, nil
}

func (s *Service) challengeAlive(channelID string) bool {
	_, ok := s.reg.Challenge(channelID)
	return ok
}

// forget drops proposal bookkeeping. Callers hold s.mu.
func (s *Service) forget(challengeID string) {
	delete(s.pending, challengeID)
	delete(s.users, challengeID)
	delete(s.communities, challengeID)
}

// snapshot returns a deep copy safe to hand to event subscribers.
func snapshot(c *domain.Challenge) *domain.Challenge {
	out := *c
	out.Players = make(map[string]*domain.PlayerScoreboard, len(c.Players))
	for id, p := range c.Players {
		cp := *p
		out.Players[id] = &cp
	}
	return &out
}
