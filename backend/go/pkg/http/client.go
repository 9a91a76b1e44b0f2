package http

import (
	"fmt"
	"net/http"
	"time"

	"ragbase/backend/go/pkg/circuitbreaker"
)

// Client wraps http.Client with an optional circuit breaker.
// Responses with status >= 500 count as failures but are still returned to the caller.
type Client struct {
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the overall request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithBreaker guards every request with b.
func WithBreaker(b *circuitbreaker.Breaker) ClientOption {
	return func(c *Client) { c.breaker = b }
}

// WithTransport replaces the underlying transport, mostly for tests.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) { c.httpClient.Transport = rt }
}

// NewClient creates a Client with a 30s default timeout.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// serverError marks a response the breaker should count as a failure.
type serverError struct{ code int }

func (e serverError) Error() string { return fmt.Sprintf("server error: received status code %d", e.code) }

// Do executes an HTTP request with circuit breaker protection.
// When the circuit is open it returns circuitbreaker.ErrCircuitOpen without sending.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := c.breaker.Execute(func() error {
		var err error
		resp, err = c.httpClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return serverError{code: resp.StatusCode}
		}
		return nil
	})
	if _, ok := err.(serverError); ok {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// HTTPClient exposes the underlying client for SDKs that need a *http.Client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}
