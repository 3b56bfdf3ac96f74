package http

import (
	"SignalFlow/backend/go/internal/config"
	"SignalFlow/backend/go/pkg/circuitbreaker"
	"SignalFlow/backend/go/pkg/ratelimiter"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StatusError is returned by Client.Do for responses the breaker counts as failures.
// The response body has already been drained and closed.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error: received status code %d", e.StatusCode)
}

// Client is a custom HTTP client that wraps the standard http.Client
// and provides built-in support for circuit breaking and request pacing.
type Client struct {
	httpClient *http.Client
	breaker    circuitbreaker.CircuitBreaker
	limiter    ratelimiter.Waiter

	breakerOpts []circuitbreaker.Option
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout of the underlying http.Client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLimiter makes every request wait for the limiter before it is sent.
func WithLimiter(l ratelimiter.Waiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithBreakerOptions passes extra options to the circuit breaker.
func WithBreakerOptions(opts ...circuitbreaker.Option) ClientOption {
	return func(c *Client) {
		c.breakerOpts = append(c.breakerOpts, opts...)
	}
}

// NewClient creates a new Client. The circuit breaker is only installed when enabled in cfg.
func NewClient(cfg config.CircuitBreakerConfig, opts ...ClientOption) (*Client, error) {
	c := &Client{httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.Enabled {
		breaker, err := createCircuitBreaker(cfg, c.breakerOpts...)
		if err != nil {
			return nil, err
		}
		c.breaker = breaker
	}
	return c, nil
}

// Do executes an HTTP request with pacing and circuit breaker protection.
// Status codes >= 500 are failures and are returned as *StatusError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}
	if c.breaker == nil {
		return c.do(req)
	}

	var resp *http.Response
	_, err := c.breaker.Execute(func() (interface{}, error) {
		var err error
		resp, err = c.do(req)
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// IsCircuitOpen reports whether err was caused by an open circuit breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, circuitbreaker.ErrCircuitOpen)
}
