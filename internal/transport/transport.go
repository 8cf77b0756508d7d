// Package transport provides HTTP round trippers shared by the model client and the extractors.
package transport

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitedTransport honours 429 retry-after responses and, optionally, paces outgoing requests
type RateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter // nil disables client-side pacing
	logger  *zap.Logger
}

type Option func(*RateLimitedTransport)

// WithPacing makes every attempt, including retries, wait on the limiter
func WithPacing(limiter *rate.Limiter) Option {
	return func(t *RateLimitedTransport) {
		t.limiter = limiter
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(t *RateLimitedTransport) {
		t.logger = logger
	}
}

func WithRateLimiting(base http.RoundTripper, opts ...Option) *RateLimitedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &RateLimitedTransport{base: base, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Preserve the original request body for retries
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		err = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to close request body: %w", err)
		}
	}

	for {
		if t.limiter != nil {
			if err := t.limiter.Wait(req.Context()); err != nil {
				return nil, fmt.Errorf("waiting for rate limiter: %w", err)
			}
		}

		// Restore the request body for each attempt
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return resp, err
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		waitDuration := retryAfter(resp.Header.Get("retry-after"))
		if waitDuration <= 0 {
			return resp, nil
		}

		err = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to close response body: %w", err)
		}

		t.logger.Info("rate limited, waiting before retry",
			zap.String("host", req.URL.Host),
			zap.Duration("wait", waitDuration),
		)
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(waitDuration):
		}
	}
}

// retryAfter parses a retry-after header given either in seconds or as an HTTP date
func retryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if retryTime, err := time.Parse(time.RFC1123, value); err == nil {
		return time.Until(retryTime)
	}
	return 0
}
