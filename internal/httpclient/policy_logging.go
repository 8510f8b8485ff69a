package httpclient

import (
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/julienstroheker/tcprelay/internal/logging"
)

// LoggingPolicy logs requests and responses at debug level
type LoggingPolicy struct {
	logger        *logging.Logger
	logHeaders    bool
	headerFilters []string
}

// LoggingOptions contains configuration for LoggingPolicy
type LoggingOptions struct {
	// LogHeaders enables logging of request and response headers
	LogHeaders bool

	// HeaderFilters lists header names whose values are redacted.
	// Authorization and Cookie are always redacted.
	HeaderFilters []string
}

// NewLoggingPolicy creates a new LoggingPolicy
func NewLoggingPolicy(logger *logging.Logger, opts *LoggingOptions) *LoggingPolicy {
	if opts == nil {
		opts = &LoggingOptions{}
	}
	return &LoggingPolicy{
		logger:        logger,
		logHeaders:    opts.LogHeaders,
		headerFilters: append([]string{"Authorization", "Cookie"}, opts.HeaderFilters...),
	}
}

// Do implements Policy interface
func (p *LoggingPolicy) Do(req *http.Request, next Next) (*http.Response, error) {
	fields := []logging.Field{
		logging.String("method", req.Method),
		logging.String("url", req.URL.Redacted()),
		logging.String("request_id", req.Header.Get(RequestIDHeader)),
	}
	if p.logHeaders {
		fields = append(fields, p.formatHeaders("request_headers", req.Header))
	}
	p.logger.Debug("HTTP Request", fields...)

	start := time.Now()
	resp, err := next(req)
	took := time.Since(start)

	if err != nil {
		p.logger.Debug("HTTP Request failed",
			logging.String("method", req.Method),
			logging.String("url", req.URL.Redacted()),
			logging.Duration("took", took),
			logging.Error(err))
		return resp, err
	}

	fields = []logging.Field{
		logging.String("method", req.Method),
		logging.String("url", req.URL.Redacted()),
		logging.Int("status", resp.StatusCode),
		logging.Duration("took", took),
	}
	if p.logHeaders {
		fields = append(fields, p.formatHeaders("response_headers", resp.Header))
	}
	p.logger.Debug("HTTP Response", fields...)
	return resp, nil
}

// formatHeaders renders headers in a stable order, redacting filtered values
func (p *LoggingPolicy) formatHeaders(key string, headers http.Header) logging.Field {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		value := strings.Join(headers[name], ", ")
		if slices.ContainsFunc(p.headerFilters, func(f string) bool { return strings.EqualFold(f, name) }) {
			value = "[REDACTED]"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", name, value))
	}
	return logging.String(key, strings.Join(parts, "; "))
}
