// Package identity resolves relay endpoints to their owning users and
// provisions endpoints lazily, one per user per community.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/victornm/harrow/internal/domain"
	"github.com/victornm/harrow/internal/errors"
)

// Store is the durable slice of the store collaborator this service needs.
type Store interface {
	UpsertRelayEndpoint(ctx context.Context, ep domain.RelayEndpoint) error
	DeleteRelayEndpoint(ctx context.Context, userID, communityID string) error
	LoadRelayEndpoints(ctx context.Context) ([]domain.RelayEndpoint, error)
	SaveLoggingChannel(ctx context.Context, communityID, channelID string) error
	LoadLoggingChannels(ctx context.Context) (map[string]string, error)
}

// Platform is the chat-platform collaborator. FetchEndpoint returns a
// CodeNotFound error when the endpoint no longer exists there.
type Platform interface {
	FetchEndpoint(ctx context.Context, endpointID string) error
	CreateEndpoint(ctx context.Context, userID, communityID string) (*domain.RelayEndpoint, error)
}

type Config struct {
	Store    Store
	Platform Platform
}

type Service struct {
	store    Store
	platform Platform

	mu         sync.RWMutex
	byEndpoint map[string]string                // endpoint id -> user id
	byOwner    map[string]domain.RelayEndpoint  // user|community -> endpoint
	logging    map[string]string                // community id -> relay channel id
	relayChans map[string]string                // relay channel id -> community id
}

func NewService(c Config) *Service {
	return &Service{
		store:      c.Store,
		platform:   c.Platform,
		byEndpoint: make(map[string]string),
		byOwner:    make(map[string]domain.RelayEndpoint),
		logging:    make(map[string]string),
		relayChans: make(map[string]string),
	}
}

// Load seeds the in-memory mappings from durable storage. Called once at
// process start, before any message is routed.
func (s *Service) Load(ctx context.Context) error {
	eps, err := s.store.LoadRelayEndpoints(ctx)
	if err != nil {
		return fmt.Errorf("identity: load endpoints: %w", err)
	}

	channels, err := s.store.LoadLoggingChannels(ctx)
	if err != nil {
		return fmt.Errorf("identity: load logging channels: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ep := range eps {
		s.byEndpoint[ep.EndpointID] = ep.UserID
		s.byOwner[ownerKey(ep.UserID, ep.CommunityID)] = ep
	}
	for community, channel := range channels {
		s.logging[community] = channel
		s.relayChans[channel] = community
	}

	slog.InfoContext(ctx, "identity: seeded from store",
		"endpoints", len(eps),
		"logging_channels", len(channels),
	)
	return nil
}

// ResolveEndpointOwner maps an endpoint id to its owning user.
func (s *Service) ResolveEndpointOwner(endpointID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.byEndpoint[endpointID]
	return userID, ok
}

// GetOrProvisionEndpoint returns the user's endpoint for the community,
// creating one when none exists or when the platform reports the recorded
// one missing. The stale record is purged before re-provisioning.
func (s *Service) GetOrProvisionEndpoint(ctx context.Context, userID, communityID string) (*domain.RelayEndpoint, error) {
	if existing, ok := s.lookupOwner(userID, communityID); ok {
		err := s.platform.FetchEndpoint(ctx, existing.EndpointID)
		if err == nil {
			return &existing, nil
		}
		if errors.Convert(err).Code != errors.CodeNotFound {
			return nil, errors.New(errors.CodeUnavailable,
				errors.WithMessagef("validate endpoint %s", existing.EndpointID),
				errors.WithCause(err))
		}

		// Endpoint gone on the platform side: purge and fall through.
		s.purge(ctx, existing)
	}

	ep, err := s.platform.CreateEndpoint(ctx, userID, communityID)
	if err != nil {
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("create endpoint for user %s", userID),
			errors.WithCause(err))
	}

	if err := s.store.UpsertRelayEndpoint(ctx, *ep); err != nil {
		slog.ErrorContext(ctx, "identity: persist endpoint failed",
			"user", userID,
			"error", err,
		)
	}

	s.mu.Lock()
	s.byEndpoint[ep.EndpointID] = ep.UserID
	s.byOwner[ownerKey(ep.UserID, ep.CommunityID)] = *ep
	s.mu.Unlock()

	return ep, nil
}

// LoggingChannel returns the community's relay input channel, if recorded.
func (s *Service) LoggingChannel(communityID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.logging[communityID]
	return ch, ok
}

// IsRelayChannel reports whether the channel is a recorded relay input
// channel for some community.
func (s *Service) IsRelayChannel(channelID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.relayChans[channelID]
	return ok
}

// SetLoggingChannel records the community's relay input channel and
// persists it.
func (s *Service) SetLoggingChannel(ctx context.Context, communityID, channelID string) error {
	if err := s.store.SaveLoggingChannel(ctx, communityID, channelID); err != nil {
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("persist logging channel for community %s", communityID),
			errors.WithCause(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.logging[communityID]; ok {
		delete(s.relayChans, old)
	}
	s.logging[communityID] = channelID
	s.relayChans[channelID] = communityID
	return nil
}

func (s *Service) lookupOwner(userID, communityID string) (domain.RelayEndpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.byOwner[ownerKey(userID, communityID)]
	return ep, ok
}

func (s *Service) purge(ctx context.Context, ep domain.RelayEndpoint) {
	if err := s.store.DeleteRelayEndpoint(ctx, ep.UserID, ep.CommunityID); err != nil {
		slog.ErrorContext(ctx, "identity: purge stale endpoint failed",
			"endpoint", ep.EndpointID,
			"error", err,
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byEndpoint, ep.EndpointID)
	delete(s.byOwner, ownerKey(ep.UserID, ep.CommunityID))
}

func ownerKey(userID, communityID string) string {
	return userID + "|" + communityID
}
