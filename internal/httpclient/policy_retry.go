package httpclient

import (
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/julienstroheker/tcprelay/internal/logging"
)

// RetryPolicy retries idempotent requests on transport errors and retryable statuses
type RetryPolicy struct {
	maxRetries       int
	retryDelay       time.Duration
	retryStatusCodes []int
	logger           *logging.Logger
}

// RetryOptions contains configuration for RetryPolicy
type RetryOptions struct {
	// MaxRetries is the maximum number of retry attempts (default: 3)
	MaxRetries int

	// RetryDelay is the initial delay, doubled after each attempt (default: 1s)
	RetryDelay time.Duration

	// RetryStatusCodes trigger a retry (default: 429, 500, 502, 503, 504)
	RetryStatusCodes []int

	// Logger for debug logging (optional)
	Logger *logging.Logger
}

// NewRetryPolicy creates a new RetryPolicy
func NewRetryPolicy(opts *RetryOptions) *RetryPolicy {
	if opts == nil {
		opts = &RetryOptions{}
	}

	p := &RetryPolicy{
		maxRetries:       opts.MaxRetries,
		retryDelay:       opts.RetryDelay,
		retryStatusCodes: opts.RetryStatusCodes,
		logger:           opts.Logger,
	}
	if p.maxRetries <= 0 {
		p.maxRetries = 3
	}
	if p.retryDelay <= 0 {
		p.retryDelay = time.Second
	}
	if len(p.retryStatusCodes) == 0 {
		p.retryStatusCodes = []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		}
	}
	return p
}

// Do implements Policy interface
func (p *RetryPolicy) Do(req *http.Request, next Next) (*http.Response, error) {
	if !p.replayable(req) {
		return next(req)
	}

	var resp *http.Response
	var err error
	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, bodyErr
			}
			req.Body = body
		}

		resp, err = next(req)
		if err == nil && !p.shouldRetry(resp) {
			return resp, nil
		}
		if attempt == p.maxRetries {
			return resp, err
		}

		// The response is discarded, release its connection
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		p.logger.Debug("Retrying request",
			logging.Int("attempt", attempt+1),
			logging.Int("max_retries", p.maxRetries),
			logging.String("url", req.URL.Redacted()),
			logging.Error(err))

		timer := time.NewTimer(p.retryDelay << attempt)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
}

// replayable reports whether req can be sent more than once
func (p *RetryPolicy) replayable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return req.GetBody != nil || req.Body == nil || req.Body == http.NoBody
}

func (p *RetryPolicy) shouldRetry(resp *http.Response) bool {
	return resp == nil || slices.Contains(p.retryStatusCodes, resp.StatusCode)
}
