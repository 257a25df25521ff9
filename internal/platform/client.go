// Package platform is the outbound client for the chat-platform adapter. The
// adapter owns the actual Discord/Slack calls; this client only speaks its
// small JSON API.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/victornm/harrow/internal/domain"
	"github.com/victornm/harrow/internal/errors"
)

type Config struct {
	// BaseURL of the adapter, e.g. http://adapter:9000.
	BaseURL string
	Token   string
}

type Client struct {
	baseURL string
	token   string
	client  *fasthttp.Client
}

func New(c Config) *Client {
	return &Client{
		baseURL: c.BaseURL,
		token:   c.Token,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
	}
}

// CreatePrivateChannel asks the adapter for a private channel restricted to
// the given participants and returns its id.
func (c *Client) CreatePrivateChannel(ctx context.Context, participants []domain.User) (string, error) {
	type participant struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	}
	req := struct {
		Participants []participant `json:"participants"`
	}{}
	for _, u := range participants {
		req.Participants = append(req.Participants, participant{ID: u.ID, DisplayName: u.DisplayName})
	}

	var resp struct {
		ChannelID string `json:"channel_id"`
	}
	if err := c.do(ctx, fasthttp.MethodPost, "/channels", req, &resp); err != nil {
		return "", err
	}
	return resp.ChannelID, nil
}

func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	return c.do(ctx, fasthttp.MethodDelete, "/channels/"+channelID, nil, nil)
}

// FetchEndpoint checks that the endpoint still exists on the platform.
func (c *Client) FetchEndpoint(ctx context.Context, endpointID string) error {
	return c.do(ctx, fasthttp.MethodGet, "/endpoints/"+endpointID, nil, nil)
}

// CreateEndpoint provisions a fresh relay endpoint for the user.
func (c *Client) CreateEndpoint(ctx context.Context, userID, communityID string) (*domain.RelayEndpoint, error) {
	req := struct {
		UserID      string `json:"user_id"`
		CommunityID string `json:"community_id"`
	}{
		UserID:      userID,
		CommunityID: communityID,
	}

	var resp struct {
		EndpointID string `json:"endpoint_id"`
		URL        string `json:"url"`
	}
	if err := c.do(ctx, fasthttp.MethodPost, "/endpoints", req, &resp); err != nil {
		return nil, err
	}

	return &domain.RelayEndpoint{
		UserID:      userID,
		CommunityID: communityID,
		EndpointID:  resp.EndpointID,
		URL:         resp.URL,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("Authorization", "Bearer "+c.token)

	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("platform: marshal %s %s: %v", method, path, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(b)
	}

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.client.DoDeadline(req, resp, deadline)
	} else {
		err = c.client.Do(req, resp)
	}
	if err != nil {
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("platform adapter unreachable"),
			errors.WithCause(err))
	}

	switch code := resp.StatusCode(); {
	case code == fasthttp.StatusNotFound:
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("platform: %s %s: not found", method, path))
	case code < 200 || code >= 300:
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("platform: %s %s: status %d", method, path, code))
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("platform: decode %s %s: %v", method, path, err)
		}
	}
	return nil
}
