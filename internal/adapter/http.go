package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/logger"
)

// HTTPClient defines an interface for HTTP client operations to enable mocking
//
//go:generate mockgen -source=http.go -destination=../mocks/http.go -package=mocks -mock_names=HTTPClient=MockHTTPClient
type HTTPClient interface {
	// Post performs a POST request with the given headers and returns the response body.
	// Non-2xx responses are returned as *HTTPStatusError.
	Post(ctx context.Context, url string, headers map[string]string, body []byte) ([]byte, error)
}

// HTTPStatusError is returned when the server answers with a non-2xx status
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
}

// HTTPRetryConfig configures the exponential backoff applied to 429 responses
type HTTPRetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	// MaxRetries caps the retries of a request; zero only bounds by MaxElapsedTime
	MaxRetries uint64
}

// DefaultHTTPRetryConfig is used by NewHTTPClient
var DefaultHTTPRetryConfig = HTTPRetryConfig{
	InitialInterval: 2 * time.Second,
	MaxInterval:     30 * time.Second,
	MaxElapsedTime:  1 * time.Minute,
}

// maxErrorBodySize bounds how much of an error response is kept
const maxErrorBodySize = 4096

// RealHTTPClient implements HTTPClient using the standard http package
type RealHTTPClient struct {
	client *http.Client
	retry  HTTPRetryConfig
}

// NewHTTPClient creates a new real HTTP client
func NewHTTPClient(timeout time.Duration) HTTPClient {
	return NewHTTPClientWithRetry(timeout, DefaultHTTPRetryConfig)
}

// NewHTTPClientWithRetry creates a new real HTTP client with a custom rate-limit backoff
func NewHTTPClientWithRetry(timeout time.Duration, retry HTTPRetryConfig) HTTPClient {
	return &RealHTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		retry: retry,
	}
}

// doRequestWithRetry executes an HTTP request with exponential backoff retry for rate limiting.
// The request is rebuilt for every attempt so the body can be replayed.
func (c *RealHTTPClient) doRequestWithRetry(ctx context.Context, newRequest func() (*http.Request, error)) ([]byte, error) {
	var respBody []byte

	operation := func() error {
		req, err := newRequest()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to perform request: %w", err))
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				logger.Warn("failed to close response body", zap.Error(err), zap.String("url", req.URL.String()))
			}
		}()

		// Handle rate limiting - retry with backoff
		if resp.StatusCode == http.StatusTooManyRequests {
			logger.Warn("rate limited, retrying with backoff", zap.String("url", req.URL.String()))
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
			return &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
		}

		// Other non-2xx status codes are permanent errors
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
			return backoff.Permanent(&HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)})
		}

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to read response body: %w", err))
		}

		return nil
	}

	// Configure exponential backoff
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialInterval
	b.MaxInterval = c.retry.MaxInterval
	b.MaxElapsedTime = c.retry.MaxElapsedTime // Total retry duration
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5 // Add jitter to prevent thundering herd

	var policy backoff.BackOff = b
	if c.retry.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(b, c.retry.MaxRetries)
	}

	// Execute with retry and context support
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			return nil, err
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return respBody, nil
}

// Post performs a POST request and returns the response body
// Implements exponential backoff retry for rate limiting (429) responses
func (c *RealHTTPClient) Post(ctx context.Context, url string, headers map[string]string, body []byte) ([]byte, error) {
	return c.doRequestWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
}
