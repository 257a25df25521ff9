package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User identifies a community member. Users have no lifecycle of their own;
// the front end supplies them per event.
type User struct {
	ID          string
	DisplayName string
}

// RelayEndpoint is a persistent, user-owned inbound address used for indirect
// answer submission. At most one endpoint exists per (user, community) pair.
type RelayEndpoint struct {
	UserID      string
	CommunityID string
	EndpointID  string
	URL         string
}

// ChallengeState is the lifecycle state of a pairwise challenge.
type ChallengeState int

const (
	ChallengeProposed ChallengeState = iota
	ChallengeActive
	ChallengeDeclined
	ChallengeCompleted
)

func (s ChallengeState) String() string {
	switch s {
	case ChallengeProposed:
		return "proposed"
	case ChallengeActive:
		return "active"
	case ChallengeDeclined:
		return "declined"
	case ChallengeCompleted:
		return "completed"
	}
	return "unknown"
}

// ChallengeConfig is a named scoring preset for pairwise challenges.
// TimeLimit is in seconds per question, 0 means no limit.
type ChallengeConfig struct {
	Name          string
	Description   string
	CorrectPoints int
	WrongPoints   int
	TimeLimit     int
}

var challengeConfigs = map[string]ChallengeConfig{
	"classic": {
		Name:          "Classic Challenge",
		Description:   "Standard scoring system",
		CorrectPoints: 4,
		WrongPoints:   -1,
	},
	"speed": {
		Name:          "Speed Challenge",
		Description:   "Fast-paced with time pressure",
		CorrectPoints: 6,
		WrongPoints:   -2,
		TimeLimit:     20,
	},
	"precision": {
		Name:          "Precision Challenge",
		Description:   "Pure Performance",
		CorrectPoints: 5,
		WrongPoints:   -5,
	},
	"survival": {
		Name:          "Survival Challenge",
		Description:   "No negative points, but lower rewards",
		CorrectPoints: 3,
		WrongPoints:   0,
	},
}

// ChallengeConfigByName returns the preset for the given name.
func ChallengeConfigByName(name string) (ChallengeConfig, bool) {
	c, ok := challengeConfigs[name]
	return c, ok
}

// ChallengeConfigNames lists the available preset names.
func ChallengeConfigNames() []string {
	names := make([]string, 0, len(challengeConfigs))
	for n := range challengeConfigs {
		names = append(names, n)
	}
	return names
}

// PlayerScoreboard tracks one seated player's tallies within a challenge.
// Points may go negative; the scoreboard is never reset mid-challenge.
type PlayerScoreboard struct {
	UserID      string
	DisplayName string
	Correct     int
	Wrong       int
	Points      int
}

// Challenge is a pairwise quiz competition between two users.
type Challenge struct {
	ID              string
	ChallengerID    string
	ChallengedID    string
	ConfigName      string
	Config          ChallengeConfig
	ResourceCode    string
	OriginChannelID string
	// ChannelID is the private session channel, assigned on acceptance.
	ChannelID string
	Players   map[string]*PlayerScoreboard
	State     ChallengeState
	CreatedAt time.Time
}

// Seated reports whether the user is one of the challenge's players.
func (c *Challenge) Seated(userID string) bool {
	_, ok := c.Players[userID]
	return ok
}

// Winner returns the player with strictly more points, or nil on a tie
// or when fewer than two players are seated.
func (c *Challenge) Winner() *PlayerScoreboard {
	var a, b *PlayerScoreboard
	for _, p := range c.Players {
		if a == nil {
			a = p
		} else {
			b = p
		}
	}
	if a == nil || b == nil {
		return nil
	}
	switch {
	case a.Points > b.Points:
		return a
	case b.Points > a.Points:
		return b
	}
	return nil
}

// GameMode configures a group game. TimeLimit is in seconds, 0 means none.
type GameMode struct {
	Key             string
	Name            string
	TimeLimit       int
	BonusMultiplier decimal.Decimal
}

var gameModes = map[string]GameMode{
	"classic": {Key: "classic", Name: "Classic", BonusMultiplier: decimal.NewFromInt(1)},
	"timed":   {Key: "timed", Name: "Timed", TimeLimit: 30, BonusMultiplier: decimal.NewFromFloat(1.2)},
	"blitz":   {Key: "blitz", Name: "Blitz", TimeLimit: 15, BonusMultiplier: decimal.NewFromFloat(1.5)},
	"streak":  {Key: "streak", Name: "Streak Master", BonusMultiplier: decimal.NewFromFloat(1.3)},
}

// GameModeByKey returns the group-game mode for the given key.
func GameModeByKey(key string) (GameMode, bool) {
	m, ok := gameModes[key]
	return m, ok
}

// GameModeKeys lists the available group-game mode keys.
func GameModeKeys() []string {
	keys := make([]string, 0, len(gameModes))
	for k := range gameModes {
		keys = append(keys, k)
	}
	return keys
}

// HighRiskUses is the number of high-risk invocations a player starts with.
const HighRiskUses = 3

// GamePlayer is a participant in a group game.
type GamePlayer struct {
	UserID      string
	DisplayName string
	// Score supports fractional multiplier bonuses and never goes below zero.
	Score  decimal.Decimal
	Streak int
	// HighRiskUses counts the remaining high-risk invocations.
	HighRiskUses int
	// HighRisk marks the high-risk resource as armed for the next scored answer.
	HighRisk bool
}

// StreakMultiplier returns the tier multiplier for the player's current streak.
func (p *GamePlayer) StreakMultiplier() decimal.Decimal {
	return StreakMultiplier(p.Streak)
}

// StreakMultiplier maps a streak length to its tier multiplier.
func StreakMultiplier(streak int) decimal.Decimal {
	switch {
	case streak >= 11:
		return decimal.NewFromFloat(3.0)
	case streak >= 8:
		return decimal.NewFromFloat(2.5)
	case streak >= 5:
		return decimal.NewFromFloat(1.5)
	}
	return decimal.NewFromInt(1)
}

// GroupGame is a channel-scoped multi-player game session.
type GroupGame struct {
	ChannelID string
	Mode      GameMode
	Players   map[string]*GamePlayer
	Active    bool
}

// SoloSession is a channel-scoped shared leaderboard for independently
// submitted quiz results against the same resource code.
type SoloSession struct {
	ID           string
	CreatorID    string
	ResourceCode string
	Title        string
	ChannelID    string
	Participants map[string]*SoloParticipant
	Active       bool
	CreatedAt    time.Time
}

// SoloParticipant holds one user's submitted result within a solo session.
// Re-submission overwrites the entry, it is not additive.
type SoloParticipant struct {
	UserID      string
	DisplayName string
	Correct     int
	Total       int
	Percentage  float64
	Score       int
}
