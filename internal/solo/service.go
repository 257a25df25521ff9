// Package solo implements channel-scoped shared leaderboards for
// independently submitted quiz results ("mono" sessions).
package solo

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/harrow/internal/domain"
	"github.com/victornm/harrow/internal/errors"
	"github.com/victornm/harrow/internal/event"
	"github.com/victornm/harrow/internal/registry"
	"github.com/victornm/harrow/internal/scoring"
)

const (
	// publishInterval batches leaderboard notifications: many submissions
	// in a short window publish once.
	publishInterval = 200 * time.Millisecond
)

// Store persists solo sessions and submitted scores.
type Store interface {
	SaveSoloSession(ctx context.Context, ss *domain.SoloSession) error
	SaveSoloScore(ctx context.Context, sessionID string, p domain.SoloParticipant) error
}

type Config struct {
	Registry *registry.Registry
	EventBus *event.Bus
	Store    Store
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	reg    *registry.Registry
	eb     *event.Bus
	store  Store
	redis  redis.UniversalClient
	prefix string

	mu sync.Mutex
}

func NewService(c Config) *Service {
	return &Service{
		reg:    c.Registry,
		eb:     c.EventBus,
		store:  c.Store,
		redis:  c.Redis,
		prefix: c.Prefix,
	}
}

type SubmitRequest struct {
	ChannelID    string
	User         domain.User
	ResourceCode string
	Correct      int
	Total        int
	Title        string
}

// Submit records the user's result, creating the channel's session lazily on
// first submission. Re-submission by the same user overwrites their prior
// entry. A different resource code than the channel's active session is
// rejected, not merged.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*domain.SoloParticipant, error) {
	if req.Total <= 0 || req.Correct < 0 || req.Correct > req.Total {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("correct answers must be between 0 and total questions"))
	}

	s.mu.Lock()
	ss, ok := s.reg.Solo(req.ChannelID)
	if ok && ss.ResourceCode != req.ResourceCode {
		code := ss.ResourceCode
		s.mu.Unlock()
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("a different resource (%s) is already active in this channel", code))
	}

	if !ok {
		var err error
		if ss, err = s.createSession(ctx, req); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}

	p := &domain.SoloParticipant{
		UserID:      req.User.ID,
		DisplayName: req.User.DisplayName,
		Correct:     req.Correct,
		Total:       req.Total,
		Percentage:  scoring.SoloPercentage(req.Correct, req.Total),
		Score:       scoring.SoloScore(req.Correct, req.Total),
	}
	ss.Participants[req.User.ID] = p

	out := *p
	sessionID := ss.ID
	snapshot := *ss
	s.mu.Unlock()

	if err := s.store.SaveSoloScore(ctx, sessionID, out); err != nil {
		slog.ErrorContext(ctx, "solo: persist score failed",
			"session", sessionID,
			"error", err,
		)
	}

	if err := s.updateLeaderboard(ctx, req.ChannelID, out, snapshot); err != nil {
		slog.ErrorContext(ctx, "solo: update leaderboard failed",
			"channel", req.ChannelID,
			"error", err,
		)
	}

	return &out, nil
}

// createSession registers a fresh session for the channel. Callers hold s.mu.
func (s *Service) createSession(ctx context.Context, req SubmitRequest) (*domain.SoloSession, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Internal(err)
	}

	title := req.Title
	if title == "" {
		title = fmt.Sprintf("Quiz Results - %s", req.ResourceCode)
	}

	ss := &domain.SoloSession{
		ID:           id.String(),
		CreatorID:    req.User.ID,
		ResourceCode: req.ResourceCode,
		Title:        title,
		ChannelID:    req.ChannelID,
		Participants: make(map[string]*domain.SoloParticipant),
		Active:       true,
		CreatedAt:    time.Now(),
	}

	if err := s.reg.RegisterSolo(req.ChannelID, ss); err != nil {
		return nil, err
	}

	if err := s.store.SaveSoloSession(ctx, ss); err != nil {
		slog.ErrorContext(ctx, "solo: persist session failed",
			"session", ss.ID,
			"error", err,
		)
	}

	return ss, nil
}

// updateLeaderboard mirrors the participant's percentage into the channel's
// sorted set and publishes the refreshed leaderboard behind a debounce.
func (s *Service) updateLeaderboard(ctx context.Context, channelID string, p domain.SoloParticipant, ss domain.SoloSession) error {
	if err := s.redis.ZAdd(ctx, s.leaderboardKey(channelID), redis.Z{
		Score:  p.Percentage,
		Member: p.UserID,
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	ok, err := s.redis.SetNX(ctx, s.timeKey(channelID), time.Now().UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil
	}

	s.eb.Publish(ctx, domain.EventSoloUpdated{Session: ss})
	return nil
}

// Leaderboard returns the session's participants ranked by percentage
// descending, ties broken by score descending.
func (s *Service) Leaderboard(ctx context.Context, channelID string) ([]domain.SoloParticipant, error) {
	ss, ok := s.reg.Solo(channelID)
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no active solo session in channel %s", channelID))
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.leaderboardKey(channelID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ranked := make([]domain.SoloParticipant, 0, len(res))
	for _, z := range res {
		if p, ok := ss.Participants[z.Member.(string)]; ok {
			ranked = append(ranked, *p)
		}
	}

	// Redis ranks by percentage; settle equal percentages by score.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Percentage != ranked[j].Percentage {
			return ranked[i].Percentage > ranked[j].Percentage
		}
		return ranked[i].Score > ranked[j].Score
	})

	return ranked, nil
}

type EndRequest struct {
	ChannelID string
	UserID    string
	// Moderator marks a caller whose privilege was already enforced by the
	// front end.
	Moderator bool
}

// End closes the channel's session and publishes the final standings. Only
// the creator or a moderator may end it.
func (s *Service) End(ctx context.Context, req EndRequest) ([]domain.SoloParticipant, error) {
	ss, ok := s.reg.Solo(req.ChannelID)
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no active solo session in channel %s", req.ChannelID))
	}

	if !req.Moderator && ss.CreatorID != req.UserID {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("only the session creator can end the session"))
	}

	final, err := s.Leaderboard(ctx, req.ChannelID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	ss.Active = false
	snapshot := *ss
	s.mu.Unlock()

	s.reg.RemoveSolo(req.ChannelID)

	if err := s.redis.Del(ctx, s.leaderboardKey(req.ChannelID), s.timeKey(req.ChannelID)).Err(); err != nil {
		slog.ErrorContext(ctx, "solo: clear leaderboard failed",
			"channel", req.ChannelID,
			"error", err,
		)
	}

	s.eb.Publish(ctx, domain.EventSoloEnded{
		Session:   snapshot,
		Standings: final,
	})

	return final, nil
}

func (s *Service) leaderboardKey(channelID string) string {
	return fmt.Sprintf("%s:%s:solo", s.prefix, channelID)
}

func (s *Service) timeKey(channelID string) string {
	return fmt.Sprintf("%s:%s:solo:time", s.prefix, channelID)
}
