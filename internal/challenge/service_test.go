package challenge_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/harrow/internal/answer"
	"github.com/victornm/harrow/internal/challenge"
	"github.com/victornm/harrow/internal/domain"
	"github.com/victornm/harrow/internal/errors"
	"github.com/victornm/harrow/internal/event"
	"github.com/victornm/harrow/internal/registry"
)

type fakeProvisioner struct {
	mu         sync.Mutex
	failCreate bool
	created    int
	deleted    []string

	// onCreate runs before each channel creation, standing in for work
	// that happens while the call is in flight.
	onCreate func()
}

func (f *fakeProvisioner) CreatePrivateChannel(_ context.Context, _ []domain.User) (string, error) {
	if f.onCreate != nil {
		f.onCreate()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCreate {
		return "", fmt.Errorf("missing manage-channels permission")
	}
	f.created++
	return fmt.Sprintf("private-%d", f.created), nil
}

func (f *fakeProvisioner) DeleteChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *fakeProvisioner) deletedChannels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.deleted...)
}

type persistedResult struct {
	challenge domain.Challenge
	winnerID  string
}

type fakeStore struct {
	mu      sync.Mutex
	fail    bool
	results []persistedResult
}

func (f *fakeStore) SaveChallengeResult(_ context.Context, c *domain.Challenge, winnerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return fmt.Errorf("connection refused")
	}
	f.results = append(f.results, persistedResult{challenge: *c, winnerID: winnerID})
	return nil
}

type fakeEndpoints struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *fakeEndpoints) GetOrProvisionEndpoint(_ context.Context, userID, communityID string) (*domain.RelayEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.fail {
		return nil, fmt.Errorf("platform unavailable")
	}
	return &domain.RelayEndpoint{UserID: userID, CommunityID: communityID, EndpointID: "ep-" + userID}, nil
}

type fixture struct {
	svc         *challenge.Service
	reg         *registry.Registry
	eb          *event.Bus
	provisioner *fakeProvisioner
	store       *fakeStore
	endpoints   *fakeEndpoints
}

func makeService(t *testing.T, opts ...func(*challenge.Config)) *fixture {
	t.Helper()

	f := &fixture{
		reg:         registry.New(),
		eb:          event.NewBus(),
		provisioner: &fakeProvisioner{},
		store:       &fakeStore{},
		endpoints:   &fakeEndpoints{},
	}

	c := challenge.Config{
		Registry:    f.reg,
		EventBus:    f.eb,
		Provisioner: f.provisioner,
		Store:       f.store,
		Endpoints:   f.endpoints,
		Unit:        time.Millisecond,
	}
	for _, opt := range opts {
		opt(&c)
	}

	f.svc = challenge.NewService(c)
	return f
}

var (
	userA = domain.User{ID: "uA", DisplayName: "Alice"}
	userB = domain.User{ID: "uB", DisplayName: "Bob"}
)

func propose(t *testing.T, f *fixture, config string) *domain.Challenge {
	t.Helper()

	c, err := f.svc.Propose(context.Background(), challenge.ProposeRequest{
		Challenger:      userA,
		Challenged:      userB,
		ConfigName:      config,
		ResourceCode:    "QB1",
		OriginChannelID: "lobby",
		CommunityID:     "g1",
	})
	require.NoError(t, err)
	return c
}

func TestService_Propose(t *testing.T) {
	t.Run("creates a proposed challenge", func(t *testing.T) {
		f := makeService(t)
		c := propose(t, f, "classic")

		assert.Equal(t, domain.ChallengeProposed, c.State)
		assert.Empty(t, c.ChannelID, "no channel exists before acceptance")
		assert.Empty(t, c.Players, "nobody is seated before acceptance")
	})

	t.Run("rejects an unknown preset", func(t *testing.T) {
		f := makeService(t)
		_, err := f.svc.Propose(context.Background(), challenge.ProposeRequest{
			Challenger: userA, Challenged: userB, ConfigName: "hardcore", ResourceCode: "QB1",
		})
		require.Error(t, err)
		assert.Equal(t, errors.CodeInvalidArgument, errors.Convert(err).Code)
	})

	t.Run("rejects a self challenge", func(t *testing.T) {
		f := makeService(t)
		_, err := f.svc.Propose(context.Background(), challenge.ProposeRequest{
			Challenger: userA, Challenged: userA, ConfigName: "classic", ResourceCode: "QB1",
		})
		require.Error(t, err)
		assert.Equal(t, errors.CodeInvalidArgument, errors.Convert(err).Code)
	})

	t.Run("expires an unanswered proposal", func(t *testing.T) {
		f := makeService(t)
		c := propose(t, f, "classic")

		// Unit is a millisecond, so the 300-unit offer window closes fast.
		// Probing with the wrong user never mutates the proposal: it answers
		// PermissionDenied while open and NotFound once expired.
		require.Eventually(t, func() bool {
			_, err := f.svc.Accept(context.Background(), c.ID, userA.ID)
			return errors.Convert(err).Code == errors.CodeNotFound
		}, time.Second, 10*time.Millisecond)

		_, err := f.svc.Accept(context.Background(), c.ID, userB.ID)
		assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)
	})
}

func TestService_Accept(t *testing.T) {
	t.Run("activates and seats both players", func(t *testing.T) {
		f := makeService(t)
		c := propose(t, f, "classic")

		active, err := f.svc.Accept(context.Background(), c.ID, userB.ID)
		require.NoError(t, err)

		assert.Equal(t, domain.ChallengeActive, active.State)
		assert.Len(t, active.Players, 2)

		got, ok := f.reg.Challenge(active.ChannelID)
		require.True(t, ok)
		assert.Equal(t, c.ID, got.ID)

		for _, u := range []domain.User{userA, userB} {
			bound, ok := f.reg.Binding(u.ID)
			require.True(t, ok, "user %s must be bound", u.ID)
			assert.Equal(t, active.ChannelID, bound)
		}

		assert.Equal(t, 2, f.endpoints.calls, "both players' endpoints are provisioned")
	})

	t.Run("only the challenged player may accept", func(t *testing.T) {
		f := makeService(t)
		c := propose(t, f, "classic")

		_, err := f.svc.Accept(context.Background(), c.ID, userA.ID)
		require.Error(t, err)
		assert.Equal(t, errors.CodePermissionDenied, errors.Convert(err).Code)
	})

	t.Run("channel creation failure leaves no partial state", func(t *testing.T) {
		f := makeService(t)
		f.provisioner.failCreate = true
		c := propose(t, f, "classic")

		_, err := f.svc.Accept(context.Background(), c.ID, userB.ID)
		require.Error(t, err)
		assert.Equal(t, errors.CodeUnavailable, errors.Convert(err).Code)

		_, ok := f.reg.Binding(userA.ID)
		assert.False(t, ok)
		_, ok = f.reg.Binding(userB.ID)
		assert.False(t, ok)

		// The proposal survives, so a retry can succeed.
		f.provisioner.failCreate = false
		_, err = f.svc.Accept(context.Background(), c.ID, userB.ID)
		assert.NoError(t, err)
	})

	t.Run("a missing endpoint does not block acceptance", func(t *testing.T) {
		f := makeService(t)
		f.endpoints.fail = true
		c := propose(t, f, "classic")

		active, err := f.svc.Accept(context.Background(), c.ID, userB.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ChallengeActive, active.State)
	})

	t.Run("a decline during channel creation wins", func(t *testing.T) {
		f := makeService(t)
		c := propose(t, f, "classic")

		// The decline lands while the channel is being created, after the
		// acceptance has already passed its initial checks.
		f.provisioner.onCreate = func() {
			require.NoError(t, f.svc.Decline(context.Background(), c.ID, userB.ID))
		}

		_, err := f.svc.Accept(context.Background(), c.ID, userB.ID)
		require.Error(t, err)
		assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)

		assert.Equal(t, []string{"private-1"}, f.provisioner.deletedChannels(),
			"the channel created for the dead proposal is cleaned up")

		_, ok := f.reg.Challenge("private-1")
		assert.False(t, ok, "the declined challenge must not be registered")
		_, ok = f.reg.Binding(userA.ID)
		assert.False(t, ok)
		_, ok = f.reg.Binding(userB.ID)
		assert.False(t, ok)
	})
}

func TestService_Decline(t *testing.T) {
	f := makeService(t)
	c := propose(t, f, "classic")

	err := f.svc.Decline(context.Background(), c.ID, userA.ID)
	require.Error(t, err)
	assert.Equal(t, errors.CodePermissionDenied, errors.Convert(err).Code)

	require.NoError(t, f.svc.Decline(context.Background(), c.ID, userB.ID))

	_, err = f.svc.Accept(context.Background(), c.ID, userB.ID)
	assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code, "declined proposal is closed")
}

func TestService_Score(t *testing.T) {
	t.Run("unknown channel", func(t *testing.T) {
		f := makeService(t)
		_, err := f.svc.Score(context.Background(), challenge.ScoreRequest{
			ChannelID: "nowhere", UserID: userA.ID, Signal: answer.SignalAffirmative,
		})
		assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)
	})

	t.Run("unseated user", func(t *testing.T) {
		f := makeService(t)
		c := propose(t, f, "classic")
		active, err := f.svc.Accept(context.Background(), c.ID, userB.ID)
		require.NoError(t, err)

		_, err = f.svc.Score(context.Background(), challenge.ScoreRequest{
			ChannelID: active.ChannelID, UserID: "stranger", Signal: answer.SignalAffirmative,
		})
		assert.Equal(t, errors.CodePermissionDenied, errors.Convert(err).Code)
	})

	t.Run("updates the scoreboard per preset", func(t *testing.T) {
		f := makeService(t)
		c := propose(t, f, "speed")
		active, err := f.svc.Accept(context.Background(), c.ID, userB.ID)
		require.NoError(t, err)

		board, err := f.svc.Score(context.Background(), challenge.ScoreRequest{
			ChannelID: active.ChannelID, UserID: userA.ID, Signal: answer.SignalAffirmative,
		})
		require.NoError(t, err)
		assert.Equal(t, 6, board.Points)

		board, err = f.svc.Score(context.Background(), challenge.ScoreRequest{
			ChannelID: active.ChannelID, UserID: userA.ID, Signal: answer.SignalNegative,
		})
		require.NoError(t, err)
		assert.Equal(t, 4, board.Points)
		assert.Equal(t, 1, board.Correct)
		assert.Equal(t, 1, board.Wrong)
	})
}

func TestService_End(t *testing.T) {
	t.Run("classic end to end", func(t *testing.T) {
		f := makeService(t)

		var (
			mu     sync.Mutex
			scored []domain.EventChallengeScored
			ended  []domain.EventChallengeEnded
		)
		f.eb.Subscribe(domain.EventNameChallengeScored, func(_ context.Context, e event.Event) error {
			mu.Lock()
			defer mu.Unlock()
			scored = append(scored, e.(domain.EventChallengeScored))
			return nil
		})
		f.eb.Subscribe(domain.EventNameChallengeEnded, func(_ context.Context, e event.Event) error {
			mu.Lock()
			defer mu.Unlock()
			ended = append(ended, e.(domain.EventChallengeEnded))
			return nil
		})

		c := propose(t, f, "classic")
		active, err := f.svc.Accept(context.Background(), c.ID, userB.ID)
		require.NoError(t, err)

		_, err = f.svc.Score(context.Background(), challenge.ScoreRequest{
			ChannelID: active.ChannelID, UserID: userA.ID, Signal: answer.SignalAffirmative,
		})
		require.NoError(t, err)
		_, err = f.svc.Score(context.Background(), challenge.ScoreRequest{
			ChannelID: active.ChannelID, UserID: userB.ID, Signal: answer.SignalNegative,
		})
		require.NoError(t, err)

		res, err := f.svc.End(context.Background(), challenge.EndRequest{
			ChannelID: active.ChannelID, UserID: userA.ID,
		})
		require.NoError(t, err)

		require.NotNil(t, res.Winner)
		assert.Equal(t, userA.ID, res.Winner.UserID)
		assert.Equal(t, 4, res.Winner.Points)
		assert.Equal(t, -1, res.Challenge.Players[userB.ID].Points)

		// The persisted record carries those exact values.
		require.Len(t, f.store.results, 1)
		rec := f.store.results[0]
		assert.Equal(t, userA.ID, rec.winnerID)
		assert.Equal(t, 4, rec.challenge.Players[userA.ID].Points)
		assert.Equal(t, 1, rec.challenge.Players[userA.ID].Correct)
		assert.Equal(t, -1, rec.challenge.Players[userB.ID].Points)
		assert.Equal(t, 1, rec.challenge.Players[userB.ID].Wrong)

		// Bindings and the registry entry are gone.
		_, ok := f.reg.Binding(userA.ID)
		assert.False(t, ok)
		_, ok = f.reg.Challenge(active.ChannelID)
		assert.False(t, ok)

		// The private channel is deleted after the grace delay.
		require.Eventually(t, func() bool {
			return len(f.provisioner.deletedChannels()) == 1
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, active.ChannelID, f.provisioner.deletedChannels()[0])

		f.eb.Stop()
		mu.Lock()
		defer mu.Unlock()
		assert.Len(t, scored, 2)
		require.Len(t, ended, 1)
		require.NotNil(t, ended[0].Winner)
		assert.Equal(t, userA.ID, ended[0].Winner.UserID)
	})

	t.Run("equal totals yield no winner", func(t *testing.T) {
		f := makeService(t)
		c := propose(t, f, "classic")
		active, err := f.svc.Accept(context.Background(), c.ID, userB.ID)
		require.NoError(t, err)

		for _, uid := range []string{userA.ID, userB.ID} {
			_, err = f.svc.Score(context.Background(), challenge.ScoreRequest{
				ChannelID: active.ChannelID, UserID: uid, Signal: answer.SignalAffirmative,
			})
			require.NoError(t, err)
		}

		res, err := f.svc.End(context.Background(), challenge.EndRequest{
			ChannelID: active.ChannelID, UserID: userB.ID,
		})
		require.NoError(t, err)
		assert.Nil(t, res.Winner)

		require.Len(t, f.store.results, 1)
		assert.Empty(t, f.store.results[0].winnerID)
	})

	t.Run("resolves the caller's challenge from another channel", func(t *testing.T) {
		f := makeService(t)
		c := propose(t, f, "classic")
		active, err := f.svc.Accept(context.Background(), c.ID, userB.ID)
		require.NoError(t, err)

		res, err := f.svc.End(context.Background(), challenge.EndRequest{
			ChannelID: "lobby", UserID: userA.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, active.ChannelID, res.Challenge.ChannelID)
	})

	t.Run("outsiders may not end a challenge", func(t *testing.T) {
		f := makeService(t)
		c := propose(t, f, "classic")
		active, err := f.svc.Accept(context.Background(), c.ID, userB.ID)
		require.NoError(t, err)

		_, err = f.svc.End(context.Background(), challenge.EndRequest{
			ChannelID: active.ChannelID, UserID: "stranger",
		})
		assert.Equal(t, errors.CodePermissionDenied, errors.Convert(err).Code)

		_, err = f.svc.End(context.Background(), challenge.EndRequest{
			ChannelID: active.ChannelID, UserID: "moderator", Moderator: true,
		})
		assert.NoError(t, err)
	})

	t.Run("a persistence failure does not block completion", func(t *testing.T) {
		f := makeService(t)
		f.store.fail = true
		c := propose(t, f, "classic")
		active, err := f.svc.Accept(context.Background(), c.ID, userB.ID)
		require.NoError(t, err)

		res, err := f.svc.End(context.Background(), challenge.EndRequest{
			ChannelID: active.ChannelID, UserID: userA.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.ChallengeCompleted, res.Challenge.State)

		_, ok := f.reg.Challenge(active.ChannelID)
		assert.False(t, ok, "live view still tears down")
	})
}
