package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/harrow/internal/domain"
	"github.com/victornm/harrow/internal/event"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Challenge struct {
		ID              string                `json:"id"`
		Type            string                `json:"type"`
		ResourceCode    string                `json:"resource_code"`
		ChannelID       string                `json:"channel_id,omitempty"`
		OriginChannelID string                `json:"origin_channel_id,omitempty"`
		State           string                `json:"state"`
		Players         []ChallengeScoreboard `json:"players"`
	}

	ChallengeScoreboard struct {
		UserID      string `json:"user_id"`
		DisplayName string `json:"display_name"`
		Correct     int    `json:"correct"`
		Wrong       int    `json:"wrong"`
		Points      int    `json:"points"`
	}

	GamePlayer struct {
		UserID       string `json:"user_id"`
		DisplayName  string `json:"display_name"`
		Score        string `json:"score"`
		Streak       int    `json:"streak"`
		HighRiskUses int    `json:"high_risk_uses"`
		HighRiskOn   bool   `json:"high_risk_on"`
	}

	SoloParticipant struct {
		UserID      string  `json:"user_id"`
		DisplayName string  `json:"display_name"`
		Correct     int     `json:"correct"`
		Total       int     `json:"total"`
		Percentage  float64 `json:"percentage"`
		Score       int     `json:"score"`
	}
)

func challengePayload(c *domain.Challenge) Challenge {
	out := Challenge{
		ID:              c.ID,
		Type:            c.ConfigName,
		ResourceCode:    c.ResourceCode,
		ChannelID:       c.ChannelID,
		OriginChannelID: c.OriginChannelID,
		State:           c.State.String(),
		Players:         make([]ChallengeScoreboard, 0, len(c.Players)),
	}
	for _, p := range c.Players {
		out.Players = append(out.Players, scoreboardPayload(*p))
	}
	return out
}

func scoreboardPayload(p domain.PlayerScoreboard) ChallengeScoreboard {
	return ChallengeScoreboard{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Correct:     p.Correct,
		Wrong:       p.Wrong,
		Points:      p.Points,
	}
}

func gamePlayerPayload(p domain.GamePlayer) GamePlayer {
	return GamePlayer{
		UserID:       p.UserID,
		DisplayName:  p.DisplayName,
		Score:        p.Score.String(),
		Streak:       p.Streak,
		HighRiskUses: p.HighRiskUses,
		HighRiskOn:   p.HighRisk,
	}
}

func gamePlayersPayload(players []domain.GamePlayer) []GamePlayer {
	out := make([]GamePlayer, 0, len(players))
	for _, p := range players {
		out = append(out, gamePlayerPayload(p))
	}
	return out
}

func soloParticipantPayload(p domain.SoloParticipant) SoloParticipant {
	return SoloParticipant{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Correct:     p.Correct,
		Total:       p.Total,
		Percentage:  p.Percentage,
		Score:       p.Score,
	}
}

func soloParticipantsPayload(participants []domain.SoloParticipant) []SoloParticipant {
	out := make([]SoloParticipant, 0, len(participants))
	for _, p := range participants {
		out = append(out, soloParticipantPayload(p))
	}
	return out
}

// registerNotifications forwards engine events to the channel-scoped pubsub
// topics the front ends subscribe to.
func (a *API) registerNotifications(eb *event.Bus) {
	eb.Subscribe(domain.EventNameChallengeStarted, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventChallengeStarted)
		data := challengePayload(&ev.Challenge)
		// The session channel and the channel the proposal came from both
		// need to hear about the start.
		return a.publishAll(ctx, e.Name(), data, ev.Challenge.ChannelID, ev.Challenge.OriginChannelID)
	})

	eb.Subscribe(domain.EventNameChallengeScored, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventChallengeScored)
		return a.publishNotification(ctx, ev.ChannelID, e.Name(), struct {
			ChannelID string              `json:"channel_id"`
			Indirect  bool                `json:"indirect"`
			Signal    string              `json:"signal"`
			Delta     int                 `json:"delta"`
			Player    ChallengeScoreboard `json:"player"`
		}{
			ChannelID: ev.ChannelID,
			Indirect:  ev.Indirect,
			Signal:    ev.Signal,
			Delta:     ev.Delta,
			Player:    scoreboardPayload(ev.Player),
		})
	})

	eb.Subscribe(domain.EventNameChallengeEnded, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventChallengeEnded)
		data := struct {
			Challenge Challenge            `json:"challenge"`
			Winner    *ChallengeScoreboard `json:"winner,omitempty"`
		}{
			Challenge: challengePayload(&ev.Challenge),
		}
		if ev.Winner != nil {
			w := scoreboardPayload(*ev.Winner)
			data.Winner = &w
		}
		return a.publishAll(ctx, e.Name(), data, ev.Challenge.ChannelID, ev.Challenge.OriginChannelID)
	})

	eb.Subscribe(domain.EventNameGameScored, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventGameScored)
		return a.publishNotification(ctx, ev.ChannelID, e.Name(), struct {
			ChannelID string     `json:"channel_id"`
			Delta     string     `json:"delta"`
			Player    GamePlayer `json:"player"`
		}{
			ChannelID: ev.ChannelID,
			Delta:     ev.Delta,
			Player:    gamePlayerPayload(ev.Player),
		})
	})

	eb.Subscribe(domain.EventNameGameEnded, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventGameEnded)
		return a.publishNotification(ctx, ev.ChannelID, e.Name(), struct {
			ChannelID string       `json:"channel_id"`
			Standings []GamePlayer `json:"standings"`
		}{
			ChannelID: ev.ChannelID,
			Standings: gamePlayersPayload(ev.Standings),
		})
	})

	eb.Subscribe(domain.EventNameSoloUpdated, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventSoloUpdated)
		return a.publishNotification(ctx, ev.Session.ChannelID, e.Name(), struct {
			ChannelID    string `json:"channel_id"`
			ResourceCode string `json:"resource_code"`
			Title        string `json:"title"`
			Participants int    `json:"participants"`
		}{
			ChannelID:    ev.Session.ChannelID,
			ResourceCode: ev.Session.ResourceCode,
			Title:        ev.Session.Title,
			Participants: len(ev.Session.Participants),
		})
	})

	eb.Subscribe(domain.EventNameSoloEnded, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventSoloEnded)
		return a.publishNotification(ctx, ev.Session.ChannelID, e.Name(), struct {
			ChannelID string            `json:"channel_id"`
			Title     string            `json:"title"`
			Standings []SoloParticipant `json:"standings"`
		}{
			ChannelID: ev.Session.ChannelID,
			Title:     ev.Session.Title,
			Standings: soloParticipantsPayload(ev.Standings),
		})
	})

	eb.Subscribe(domain.EventNameTimerTick, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventTimerTick)
		return a.publishNotification(ctx, ev.ChannelID, e.Name(), struct {
			ChannelID string `json:"channel_id"`
			Remaining int    `json:"remaining"`
		}{
			ChannelID: ev.ChannelID,
			Remaining: ev.Remaining,
		})
	})

	eb.Subscribe(domain.EventNameTimerExpired, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventTimerExpired)
		return a.publishNotification(ctx, ev.ChannelID, e.Name(), struct {
			ChannelID string `json:"channel_id"`
		}{
			ChannelID: ev.ChannelID,
		})
	})
}

// publishAll fans one notification out to several channels, skipping blanks.
func (a *API) publishAll(ctx context.Context, event string, data any, channels ...string) error {
	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, ch := range channels {
		if ch == "" {
			continue
		}
		ch := ch
		eg.Go(func() error {
			return a.publishNotification(ctx, ch, event, data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:channel:%s", a.prefix, channel), b).Err()
}
