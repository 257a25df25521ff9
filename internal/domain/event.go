package domain

const (
	EventNameChallengeStarted = "challenge.started"
	EventNameChallengeScored  = "challenge.scored"
	EventNameChallengeEnded   = "challenge.ended"
	EventNameGameScored       = "game.scored"
	EventNameGameEnded        = "game.ended"
	EventNameSoloUpdated      = "solo.updated"
	EventNameSoloEnded        = "solo.ended"
	EventNameTimerTick        = "timer.tick"
	EventNameTimerExpired     = "timer.expired"
)

type EventChallengeStarted struct {
	Challenge Challenge
}

func (EventChallengeStarted) Name() string { return EventNameChallengeStarted }

type EventChallengeScored struct {
	ChannelID string
	// Indirect marks answers that arrived through a relay endpoint.
	Indirect bool
	Signal   string
	Delta    int
	Player   PlayerScoreboard
}

func (EventChallengeScored) Name() string { return EventNameChallengeScored }

type EventChallengeEnded struct {
	Challenge Challenge
	// Winner is nil on a tie.
	Winner *PlayerScoreboard
}

func (EventChallengeEnded) Name() string { return EventNameChallengeEnded }

type EventGameScored struct {
	ChannelID string
	Delta     string
	Player    GamePlayer
}

func (EventGameScored) Name() string { return EventNameGameScored }

type EventGameEnded struct {
	ChannelID string
	Standings []GamePlayer
}

func (EventGameEnded) Name() string { return EventNameGameEnded }

type EventSoloUpdated struct {
	Session SoloSession
}

func (EventSoloUpdated) Name() string { return EventNameSoloUpdated }

type EventSoloEnded struct {
	Session   SoloSession
	Standings []SoloParticipant
}

func (EventSoloEnded) Name() string { return EventNameSoloEnded }

type EventTimerTick struct {
	ChannelID string
	Remaining int
}

func (EventTimerTick) Name() string { return EventNameTimerTick }

type EventTimerExpired struct {
	ChannelID string
}

func (EventTimerExpired) Name() string { return EventNameTimerExpired }
