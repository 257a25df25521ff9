// Package router converges the two answer-submission paths, direct channel
// messages and relay-endpoint traffic, onto the same challenge state.
package router

import (
	"context"

	"github.com/victornm/harrow/internal/answer"
	"github.com/victornm/harrow/internal/challenge"
	"github.com/victornm/harrow/internal/domain"
	"github.com/victornm/harrow/internal/errors"
	"github.com/victornm/harrow/internal/registry"
)

// Message is a raw inbound message plus its origin classification.
type Message struct {
	Text      string
	ChannelID string
	// AuthorID is the direct author, empty when the message carries no
	// direct author context (pure endpoint traffic).
	AuthorID string
	// EndpointID is the claimed relay endpoint id for indirect messages.
	EndpointID string
	// Indirect marks messages that arrived via a relay endpoint rather
	// than the session's own channel.
	Indirect bool
}

// Reason explains why a message was ignored. Ignored messages are no-ops by
// design, never errors: chatter, stale references and unknown endpoints all
// land here.
type Reason string

const (
	ReasonUnknownEndpoint Reason = "unknown endpoint"
	ReasonNoBinding       Reason = "no active challenge binding"
	ReasonStaleBinding    Reason = "stale challenge binding"
	ReasonNoSession       Reason = "no session for channel"
	ReasonNotSeated       Reason = "user not seated"
	ReasonInactive        Reason = "challenge not active"
	ReasonNotAnAnswer     Reason = "not an answer"
)

// Outcome is the result of routing one message.
type Outcome struct {
	Scored bool
	Reason Reason
	Player *domain.PlayerScoreboard
}

func ignored(r Reason) Outcome { return Outcome{Reason: r} }

// Resolver maps endpoint ids to their owning users.
type Resolver interface {
	ResolveEndpointOwner(endpointID string) (string, bool)
}

// Relays identifies channels whose traffic is relay-endpoint output rather
// than direct user messages.
type Relays interface {
	IsRelayChannel(channelID string) bool
}

// Scorer records a classified answer against an active challenge.
type Scorer interface {
	Score(ctx context.Context, req challenge.ScoreRequest) (*domain.PlayerScoreboard, error)
}

type Config struct {
	Registry *registry.Registry
	Resolver Resolver
	Scorer   Scorer
	// Relays is optional; without it only explicitly flagged messages are
	// treated as endpoint traffic.
	Relays Relays
}

type Router struct {
	reg      *registry.Registry
	resolver Resolver
	scorer   Scorer
	relays   Relays
}

func New(c Config) *Router {
	return &Router{
		reg:      c.Registry,
		resolver: c.Resolver,
		scorer:   c.Scorer,
		relays:   c.Relays,
	}
}

// Route resolves the acting user and their bound session for the message
// and forwards a classified answer to it. Stale bindings are evicted as a
// side effect; nothing else mutates on an ignored outcome.
func (r *Router) Route(ctx context.Context, m Message) Outcome {
	// Traffic in a recorded relay channel is endpoint output; the posting
	// endpoint's id arrives as the author, which is not a user.
	if !m.Indirect && r.relays != nil && r.relays.IsRelayChannel(m.ChannelID) {
		m.Indirect = true
		if m.EndpointID == "" {
			m.EndpointID = m.AuthorID
		}
		m.AuthorID = ""
	}

	// Direct author context wins; the endpoint owner is the fallback for
	// pure endpoint traffic.
	userID := m.AuthorID
	if m.Indirect && userID == "" {
		owner, ok := r.resolver.ResolveEndpointOwner(m.EndpointID)
		if !ok {
			return ignored(ReasonUnknownEndpoint)
		}
		userID = owner
	}

	channelID := m.ChannelID
	if _, ok := r.reg.Challenge(channelID); !ok {
		if !m.Indirect {
			return ignored(ReasonNoSession)
		}

		bound, ok := r.reg.Binding(userID)
		if !ok {
			return ignored(ReasonNoBinding)
		}
		if _, ok := r.reg.Challenge(bound); !ok {
			// The bound challenge is gone; self-heal and move on.
			r.reg.Unbind(userID)
			return ignored(ReasonStaleBinding)
		}
		channelID = bound
	}

	sig := answer.Classify(m.Text)
	if sig == answer.SignalNone {
		return ignored(ReasonNotAnAnswer)
	}

	// State and seating are validated under the scorer's own lock; checking
	// them here would race with the session ending concurrently.
	board, err := r.scorer.Score(ctx, challenge.ScoreRequest{
		ChannelID: channelID,
		UserID:    userID,
		Signal:    sig,
		Indirect:  m.Indirect,
	})
	if err != nil {
		switch errors.Convert(err).Code {
		case errors.CodePermissionDenied:
			return ignored(ReasonNotSeated)
		case errors.CodeNotFound:
			return ignored(ReasonNoSession)
		default:
			return ignored(ReasonInactive)
		}
	}

	return Outcome{Scored: true, Player: board}
}
