// Package client provides a thin HTTP client for the fleet-telemetry API.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"syscall"

	"github.com/go-resty/resty/v2"
)

// Scope headers understood by the API.
const (
	HeaderRole     = "X-Fleet-Role"
	HeaderDealerID = "X-Fleet-Dealer-ID"
	HeaderUser     = "X-Fleet-User"
)

// Client is a thin HTTP client for the fleet-telemetry API.
type Client struct {
	baseURL string
	rest    *resty.Client
}

// New creates a new API client targeting the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		rest:    resty.New(),
	}
	c.rest.SetBaseURL(c.baseURL)
	c.rest.SetHeader("Accept", "application/json")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		base := c.rest.BaseURL
		c.rest = resty.NewWithClient(hc)
		c.rest.SetBaseURL(base)
		c.rest.SetHeader("Accept", "application/json")
	}
}

// WithScope sends the caller's role and dealer on every request. An empty
// dealer id is omitted.
func WithScope(role, dealerID string) Option {
	return func(c *Client) {
		if role != "" {
			c.rest.SetHeader(HeaderRole, role)
		}
		if dealerID != "" {
			c.rest.SetHeader(HeaderDealerID, dealerID)
		}
	}
}

// WithUser records who is acting, used for acknowledgements.
func WithUser(user string) Option {
	return func(c *Client) {
		if user != "" {
			c.rest.SetHeader(HeaderUser, user)
		}
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Body)
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, dst any) error {
	req := c.rest.R().SetContext(ctx).SetQueryParams(query)
	return c.do(req, http.MethodGet, path, dst)
}

func (c *Client) post(ctx context.Context, path string, body, dst any) error {
	req := c.rest.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	return c.do(req, http.MethodPost, path, dst)
}

func (c *Client) put(ctx context.Context, path string, body, dst any) error {
	req := c.rest.R().SetContext(ctx).SetBody(body)
	return c.do(req, http.MethodPut, path, dst)
}

func (c *Client) do(req *resty.Request, method, path string, dst any) error {
	if dst != nil {
		req.SetResult(dst).ExpectContentType("application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if isConnectionRefused(err) {
			return fmt.Errorf("API server not running at %s", c.baseURL)
		}
		return fmt.Errorf("sending request: %w", err)
	}

	if resp.IsError() {
		return &APIError{Status: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
	}
	return nil
}

func isConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) ||
		strings.Contains(err.Error(), "connection refused")
}
