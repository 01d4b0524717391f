package telematics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/donaldgifford/fleet-telemetry/internal/metrics"
)

const (
	statusSuccess = "SUCCESS"
	tokenLifetime = time.Hour
	refreshBuffer = 5 * time.Minute
)

// envelope is the provider's response wrapper for every endpoint.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *envelope) err(endpoint string) error {
	if e.Status == statusSuccess {
		return nil
	}
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Errorf("provider %s: %s", endpoint, msg)
}

type tokenData struct {
	Token string `json:"token"`
}

// TokenCache fetches and caches the provider session token. Tokens are
// refreshed lazily once they are within five minutes of expiry. Concurrent
// callers serialize on the mutex, so at most one refresh is in flight.
type TokenCache struct {
	client   *resty.Client
	username string
	password string
	lifetime time.Duration

	mu      sync.Mutex
	token   string
	expiry  time.Time
	nowFunc func() time.Time
}

// TokenOption configures the TokenCache.
type TokenOption func(*TokenCache)

// WithTokenLifetime overrides the assumed token lifetime.
func WithTokenLifetime(d time.Duration) TokenOption {
	return func(c *TokenCache) {
		c.lifetime = d
	}
}

// WithTokenNowFunc overrides the time function for testing.
func WithTokenNowFunc(f func() time.Time) TokenOption {
	return func(c *TokenCache) {
		c.nowFunc = f
	}
}

// NewTokenCache creates a token cache that authenticates through client,
// which must already point at the provider base URL.
func NewTokenCache(client *resty.Client, username, password string, opts ...TokenOption) *TokenCache {
	c := &TokenCache{
		client:   client,
		username: username,
		password: password,
		lifetime: tokenLifetime,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a valid token, refreshing if necessary.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.nowFunc().Before(c.expiry.Add(-refreshBuffer)) {
		return c.token, nil
	}

	return c.refreshLocked(ctx)
}

// Invalidate drops the cached token so the next call re-authenticates.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiry = time.Time{}
}

func (c *TokenCache) refreshLocked(ctx context.Context) (string, error) {
	var env envelope
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"username": c.username, "password": c.password}).
		SetResult(&env).
		SetError(&env).
		Post("/gettoken")
	if err != nil {
		return "", fmt.Errorf("executing token request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("token request failed (status %d): %s", resp.StatusCode(), env.Message)
	}
	if err := env.err("gettoken"); err != nil {
		return "", fmt.Errorf("authenticating: %w", err)
	}

	var data tokenData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("parsing token response: %w", err)
	}
	if data.Token == "" {
		return "", errors.New("parsing token response: empty token")
	}

	metrics.ProviderTokenRefreshesTotal.Inc()

	c.token = data.Token
	c.expiry = c.nowFunc().Add(c.lifetime)
	return c.token, nil
}
