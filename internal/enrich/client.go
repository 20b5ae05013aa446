// Package enrich resolves raw player references into enriched identities
// through the rate-limited VRChat users API.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultBaseURL is the VRChat API endpoint.
const DefaultBaseURL = "https://api.vrchat.cloud/api/1"

// ErrNotFound is returned when the lookup service has no such player.
var ErrNotFound = errors.New("player not found")

// ErrNoToken is returned when no auth token is available.
var ErrNoToken = errors.New("no auth token available")

// Profile is the upstream identity payload.
type Profile struct {
	DisplayName string   `json:"displayName"`
	Tags        []string `json:"tags"`
}

// Client abstracts the identity lookup service for testing.
type Client interface {
	// GetProfile fetches the profile for a player id.
	// Returns ErrNotFound when the service has no such player.
	GetProfile(ctx context.Context, playerID string) (*Profile, error)
}

// TokenProvider supplies a valid auth cookie, or reports that none exists.
// The credential flow itself lives outside this package.
type TokenProvider interface {
	Token(ctx context.Context) (string, bool)
}

// HTTPClient talks to the VRChat users endpoint.
type HTTPClient struct {
	baseURL   string
	tokens    TokenProvider
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithBaseURL overrides the API base URL (for testing).
func WithBaseURL(url string) ClientOption {
	return func(c *HTTPClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *HTTPClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewHTTPClient creates a client for the identity lookup service.
func NewHTTPClient(tokens TokenProvider, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:   DefaultBaseURL,
		tokens:    tokens,
		client:    &http.Client{Timeout: 15 * time.Second},
		userAgent: "vrcwatch",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetProfile implements Client.
func (c *HTTPClient) GetProfile(ctx context.Context, playerID string) (*Profile, error) {
	token, ok := c.tokens.Token(ctx)
	if !ok {
		return nil, ErrNoToken
	}

	url := fmt.Sprintf("%s/users/%s", c.baseURL, playerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.AddCookie(&http.Cookie{Name: "auth", Value: token})

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", playerID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var p Profile
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		return &p, nil

	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrNotFound

	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("lookup %s: unexpected status %d", playerID, resp.StatusCode)
	}
}
