package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/julienstroheker/tcprelay/internal/logging"
)

// Client is an HTTP client that sends every request through a policy chain
type Client struct {
	httpClient *http.Client
	policies   []Policy
}

// Options contains configuration options for the HTTP client
type Options struct {
	// Timeout is the maximum time for one attempt
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts, 0 disables retries
	MaxRetries int

	// RetryDelay is the initial delay between retries (exponential backoff is applied)
	RetryDelay time.Duration

	// Logger is used for debug logging (optional)
	Logger *logging.Logger

	// UserAgent is the User-Agent header value
	UserAgent string

	// Transport allows customizing the underlying HTTP transport
	Transport http.RoundTripper

	// AdditionalPolicies run innermost, closest to the transport
	AdditionalPolicies []Policy
}

// DefaultOptions returns default options for the HTTP client
func DefaultOptions() *Options {
	return &Options{
		Timeout:    10 * time.Second,
		MaxRetries: 2,
		RetryDelay: 200 * time.Millisecond,
		UserAgent:  defaultUserAgent,
	}
}

// NewClient creates a new HTTP client with the given options
func NewClient(opts *Options) *Client {
	if opts == nil {
		opts = DefaultOptions()
	}

	httpClient := &http.Client{Timeout: opts.Timeout}
	if opts.Transport != nil {
		httpClient.Transport = opts.Transport
	}

	// Outermost first: errors wrap everything, retries reuse the request id,
	// logging sees the final headers
	policies := []Policy{NewErrorPolicy()}
	if opts.MaxRetries > 0 {
		policies = append(policies, NewRetryPolicy(&RetryOptions{
			MaxRetries: opts.MaxRetries,
			RetryDelay: opts.RetryDelay,
			Logger:     opts.Logger,
		}))
	}
	policies = append(policies, NewRequestIDPolicy(""), NewUserAgentPolicy(opts.UserAgent))
	if opts.Logger != nil {
		policies = append(policies, NewLoggingPolicy(opts.Logger, &LoggingOptions{LogHeaders: true}))
	}
	policies = append(policies, opts.AdditionalPolicies...)

	return &Client{
		httpClient: httpClient,
		policies:   policies,
	}
}

// Do executes an HTTP request through the policy chain
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	next := Next(c.httpClient.Do)
	for i := len(c.policies) - 1; i >= 0; i-- {
		policy, inner := c.policies[i], next
		next = func(r *http.Request) (*http.Response, error) {
			return policy.Do(r, inner)
		}
	}
	return next(req)
}

// Get is a convenience method for GET requests
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// GetJSON fetches url and decodes a 2xx JSON body into v.
// Other statuses are returned as *StatusError.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := CheckStatus(resp); err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}
