// Package store is the durable-store collaborator: it persists finished
// results and the seed data loaded once at startup. The engine treats every
// write as fire-and-forget; a failed write never blocks a lifecycle
// transition.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/harrow/internal/domain"
)

type Config struct {
	DB *pgxpool.Pool
}

type Store struct {
	db *pgxpool.Pool
}

func New(c Config) *Store {
	return &Store{db: c.DB}
}

// SaveChallengeResult writes both players' final tallies. winnerID is empty
// on a tie.
func (s *Store) SaveChallengeResult(ctx context.Context, c *domain.Challenge, winnerID string) error {
	challenger, ok := c.Players[c.ChallengerID]
	if !ok {
		return fmt.Errorf("challenger %s not seated", c.ChallengerID)
	}
	challenged, ok := c.Players[c.ChallengedID]
	if !ok {
		return fmt.Errorf("challenged %s not seated", c.ChallengedID)
	}

	const stmt = `
INSERT INTO challenge_results
	(challenge_id, challenger_id, challenged_id, winner_id, config_name, resource_code,
	 challenger_correct, challenger_wrong, challenger_points,
	 challenged_correct, challenged_wrong, challenged_points)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12);`

	_, err := s.db.Exec(ctx, stmt,
		c.ID, c.ChallengerID, c.ChallengedID, winnerID, c.ConfigName, c.ResourceCode,
		challenger.Correct, challenger.Wrong, challenger.Points,
		challenged.Correct, challenged.Wrong, challenged.Points,
	)
	if err != nil {
		return fmt.Errorf("insert challenge result: %w", err)
	}

	return nil
}

func (s *Store) SaveSoloSession(ctx context.Context, ss *domain.SoloSession) error {
	const stmt = `
INSERT INTO solo_sessions (session_id, creator_id, resource_code, channel_id, title, created_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err := s.db.Exec(ctx, stmt, ss.ID, ss.CreatorID, ss.ResourceCode, ss.ChannelID, ss.Title, ss.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert solo session: %w", err)
	}

	return nil
}

// SaveSoloScore upserts a participant's entry; re-submission overwrites.
func (s *Store) SaveSoloScore(ctx context.Context, sessionID string, p domain.SoloParticipant) error {
	const stmt = `
INSERT INTO solo_scores (session_id, user_id, username, score, correct_count, total_questions, percentage)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (session_id, user_id) DO UPDATE SET
	username = EXCLUDED.username,
	score = EXCLUDED.score,
	correct_count = EXCLUDED.correct_count,
	total_questions = EXCLUDED.total_questions,
	percentage = EXCLUDED.percentage;`

	_, err := s.db.Exec(ctx, stmt, sessionID, p.UserID, p.DisplayName, p.Score, p.Correct, p.Total, p.Percentage)
	if err != nil {
		return fmt.Errorf("upsert solo score: %w", err)
	}

	return nil
}

func (s *Store) SaveGameStats(ctx context.Context, g *domain.GroupGame) error {
	const stmt = `
INSERT INTO game_stats (user_id, username, channel_id, score, streak, game_mode)
VALUES ($1, $2, $3, $4, $5, $6);`

	for _, p := range g.Players {
		if _, err := s.db.Exec(ctx, stmt, p.UserID, p.DisplayName, g.ChannelID, p.Score, p.Streak, g.Mode.Key); err != nil {
			return fmt.Errorf("insert game stats for %s: %w", p.UserID, err)
		}
	}

	return nil
}

func (s *Store) UpsertRelayEndpoint(ctx context.Context, ep domain.RelayEndpoint) error {
	const stmt = `
INSERT INTO relay_endpoints (user_id, community_id, endpoint_id, endpoint_url)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, community_id) DO UPDATE SET
	endpoint_id = EXCLUDED.endpoint_id,
	endpoint_url = EXCLUDED.endpoint_url;`

	_, err := s.db.Exec(ctx, stmt, ep.UserID, ep.CommunityID, ep.EndpointID, ep.URL)
	if err != nil {
		return fmt.Errorf("upsert relay endpoint: %w", err)
	}

	return nil
}

func (s *Store) DeleteRelayEndpoint(ctx context.Context, userID, communityID string) error {
	const stmt = `DELETE FROM relay_endpoints WHERE user_id = $1 AND community_id = $2;`

	if _, err := s.db.Exec(ctx, stmt, userID, communityID); err != nil {
		return fmt.Errorf("delete relay endpoint: %w", err)
	}

	return nil
}

// LoadRelayEndpoints returns every persisted endpoint. Called once at
// startup to seed the identity resolver.
func (s *Store) LoadRelayEndpoints(ctx context.Context) ([]domain.RelayEndpoint, error) {
	const stmt = `SELECT user_id, community_id, endpoint_id, endpoint_url FROM relay_endpoints;`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("load relay endpoints: %w", err)
	}

	eps, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.RelayEndpoint, error) {
		var ep domain.RelayEndpoint
		if err := r.Scan(&ep.UserID, &ep.CommunityID, &ep.EndpointID, &ep.URL); err != nil {
			return domain.RelayEndpoint{}, err
		}
		return ep, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect relay endpoints: %w", err)
	}

	return eps, nil
}

func (s *Store) SaveLoggingChannel(ctx context.Context, communityID, channelID string) error {
	const stmt = `
INSERT INTO logging_channels (community_id, channel_id)
VALUES ($1, $2)
ON CONFLICT (community_id) DO UPDATE SET channel_id = EXCLUDED.channel_id;`

	if _, err := s.db.Exec(ctx, stmt, communityID, channelID); err != nil {
		return fmt.Errorf("upsert logging channel: %w", err)
	}

	return nil
}

// LoadLoggingChannels returns the community-to-relay-channel map. Called once
// at startup.
func (s *Store) LoadLoggingChannels(ctx context.Context) (map[string]string, error) {
	const stmt = `SELECT community_id, channel_id FROM logging_channels;`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("load logging channels: %w", err)
	}
	defer rows.Close()

	channels := make(map[string]string)
	for rows.Next() {
		var community, channel string
		if err := rows.Scan(&community, &channel); err != nil {
			return nil, fmt.Errorf("scan logging channel: %w", err)
		}
		channels[community] = channel
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logging channels: %w", err)
	}

	return channels, nil
}
