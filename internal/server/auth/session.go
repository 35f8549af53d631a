package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
)

// DefaultSessionURL is the public hasJoined endpoint.
const DefaultSessionURL = "https://sessionserver.mojang.com/session/minecraft/hasJoined"

// ErrNotAuthenticated is returned when the session service does not know
// the player and server id pair.
var ErrNotAuthenticated = errors.New("player has not joined")

// Property is a signed profile property.
type Property struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Signature string `json:"signature,omitempty"`
}

// Profile is a verified player identity.
type Profile struct {
	ID         uuid.UUID
	Name       string
	Properties []Property
}

type profileJSON struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Properties []Property `json:"properties"`
}

// Verifier checks that a player announced their join to the session service.
type Verifier interface {
	HasJoined(ctx context.Context, username, serverID string) (*Profile, error)
}

// Client queries the session service over a pooled HTTP client and retries
// transient failures with exponential backoff.
type Client struct {
	http    *http.Client
	baseURL string
	retries uint64
	wait    time.Duration
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled default client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithBaseURL points the client at another hasJoined endpoint.
func WithBaseURL(u string) Option {
	return func(cl *Client) { cl.baseURL = u }
}

// WithRetries sets how many times a failed request is retried.
func WithRetries(n int) Option {
	return func(cl *Client) {
		if n < 0 {
			n = 0
		}
		cl.retries = uint64(n)
	}
}

// WithInitialInterval sets the first backoff delay.
func WithInitialInterval(d time.Duration) Option {
	return func(cl *Client) { cl.wait = d }
}

// WithLogger sets the logger used for retry notices.
func WithLogger(log *slog.Logger) Option {
	return func(cl *Client) { cl.log = log }
}

// NewClient returns a Client for DefaultSessionURL with 3 retries.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:    cleanhttp.DefaultPooledClient(),
		baseURL: DefaultSessionURL,
		retries: 3,
		wait:    250 * time.Millisecond,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasJoined asks whether username joined with serverID and returns the
// service's version of the profile. ErrNotAuthenticated is never retried.
func (c *Client) HasJoined(ctx context.Context, username, serverID string) (*Profile, error) {
	q := url.Values{}
	q.Set("username", username)
	q.Set("serverId", serverID)
	target := c.baseURL + "?" + q.Encode()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.wait
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, c.retries), ctx)

	var profile *Profile
	op := func() error {
		p, err := c.query(ctx, target)
		if err != nil {
			if errors.Is(err, ErrNotAuthenticated) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		profile = p
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.log.Warn("session service request failed, retrying", "username", username, "in", next, "error", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("verify %s: %w", username, err)
	}
	return profile, nil
}

func (c *Client) query(ctx context.Context, target string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create session request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w (status %d)", ErrNotAuthenticated, resp.StatusCode)
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("session service unexpected status: %d", resp.StatusCode)
	}

	var raw profileJSON
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	id, err := uuid.Parse(raw.ID)
	if err != nil {
		return nil, fmt.Errorf("session response id %q: %w", raw.ID, err)
	}
	return &Profile{ID: id, Name: raw.Name, Properties: raw.Properties}, nil
}
