package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/vietcart-next/internal/logger"
)

const (
	defaultTimeout    = 30 * time.Second
	maxAttempts       = 3
	breakerFailures   = 5
	breakerOpenWindow = 30 * time.Second
	maxResponseBytes  = 1 << 20
)

// GatewayError is the typed failure every provider call surfaces.
// Transient marks failures worth retrying (network, 5xx, 429).
type GatewayError struct {
	Provider   string
	Code       string
	Message    string
	HTTPStatus int
	Transient  bool
}

func (e *GatewayError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("gateway %s: %s (%s, http %d)", e.Provider, e.Message, e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("gateway %s: %s (%s)", e.Provider, e.Message, e.Code)
}

// IsTransient reports whether err is a retryable gateway failure.
func IsTransient(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Transient
}

// IsCircuitOpen reports whether err was short-circuited by the breaker.
func IsCircuitOpen(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Code == "circuit_open"
}

// Request is a provider HTTP call.
type Request struct {
	Method      string
	URL         string
	Body        []byte
	ContentType string
	Header      map[string]string
}

// Response is the raw provider reply after transport-level checks.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client wraps an http.Client with per-provider retry and circuit
// breaking. One Client per provider keeps breaker state isolated.
type Client struct {
	provider string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// Options tunes a transport client. OpenWindow is how long the breaker
// stays open before admitting one trial call; zero means the default.
type Options struct {
	Timeout    time.Duration
	OpenWindow time.Duration
}

// New builds a transport client for one provider.
func New(provider string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	openWindow := opts.OpenWindow
	if openWindow <= 0 {
		openWindow = breakerOpenWindow
	}
	c := &Client{
		provider: provider,
		http:     &http.Client{Timeout: timeout},
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1,
		Timeout:     openWindow,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnw("gateway_breaker_state_changed",
				"provider", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Provider returns the owning provider name.
func (c *Client) Provider() string { return c.provider }

// Do executes the request with breaker protection and retries transient
// failures with exponential backoff, up to three attempts total.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx)

	var resp *Response
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		r, err := c.execute(ctx, req)
		if err != nil {
			if IsTransient(err) && !IsCircuitOpen(err) {
				logger.Warnw("gateway_request_retrying",
					"provider", c.provider, "url", req.URL, "attempt", attempt, "error", err.Error())
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// DoOnce executes the request with breaker protection but no retries.
// Health probes use it so a down gateway is not hammered.
func (c *Client) DoOnce(ctx context.Context, req *Request) (*Response, error) {
	return c.execute(ctx, req)
}

func (c *Client) execute(ctx context.Context, req *Request) (*Response, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &GatewayError{
				Provider:  c.provider,
				Code:      "circuit_open",
				Message:   "circuit breaker open",
				Transient: true,
			}
		}
		return nil, err
	}
	return out.(*Response), nil
}

func (c *Client) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &GatewayError{Provider: c.provider, Code: "bad_request", Message: err.Error()}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &GatewayError{
			Provider:  c.provider,
			Code:      "network_error",
			Message:   err.Error(),
			Transient: true,
		}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, &GatewayError{
			Provider:  c.provider,
			Code:      "read_error",
			Message:   err.Error(),
			Transient: true,
		}
	}

	logger.Debugw("gateway_request_completed",
		"provider", c.provider, "url", req.URL,
		"status", httpResp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	switch {
	case httpResp.StatusCode >= 500:
		return nil, &GatewayError{
			Provider:   c.provider,
			Code:       "server_error",
			Message:    "gateway returned server error",
			HTTPStatus: httpResp.StatusCode,
			Transient:  true,
		}
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, &GatewayError{
			Provider:   c.provider,
			Code:       "rate_limited",
			Message:    "gateway rate limited the request",
			HTTPStatus: httpResp.StatusCode,
			Transient:  true,
		}
	case httpResp.StatusCode >= 400:
		return nil, &GatewayError{
			Provider:   c.provider,
			Code:       "client_error",
			Message:    "gateway rejected the request",
			HTTPStatus: httpResp.StatusCode,
		}
	}
	return &Response{StatusCode: httpResp.StatusCode, Body: data}, nil
}
