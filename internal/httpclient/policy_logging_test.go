package httpclient

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/julienstroheker/tcprelay/internal/logging"
)

func TestLoggingPolicy(t *testing.T) {
	t.Run("request and response", func(t *testing.T) {
		var buf bytes.Buffer
		policy := NewLoggingPolicy(logging.NewWithOutput(logging.DebugLevel, &buf), nil)

		req, _ := http.NewRequest(http.MethodGet, "http://example.com/api/stats", nil)
		req.Header.Set(RequestIDHeader, "req-1")
		_, err := policy.Do(req, func(*http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}}, nil
		})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		output := buf.String()
		for _, want := range []string{"HTTP Request", "HTTP Response", "/api/stats", "req-1", `"status": 200`} {
			if !strings.Contains(output, want) {
				t.Errorf("Expected %q in logs, got: %s", want, output)
			}
		}
		if strings.Contains(output, "request_headers") {
			t.Error("Expected headers not logged by default")
		}
	})

	t.Run("failure", func(t *testing.T) {
		var buf bytes.Buffer
		policy := NewLoggingPolicy(logging.NewWithOutput(logging.DebugLevel, &buf), nil)

		req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
		_, err := policy.Do(req, func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		})
		if err == nil {
			t.Fatal("Expected error to pass through")
		}
		if !strings.Contains(buf.String(), "HTTP Request failed") || !strings.Contains(buf.String(), "connection refused") {
			t.Errorf("Expected failure log, got: %s", buf.String())
		}
	})

	t.Run("headers redacted", func(t *testing.T) {
		var buf bytes.Buffer
		policy := NewLoggingPolicy(logging.NewWithOutput(logging.DebugLevel, &buf), &LoggingOptions{
			LogHeaders:    true,
			HeaderFilters: []string{"X-Api-Key"},
		})

		req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
		req.Header.Set("Authorization", "Bearer secret-token")
		req.Header.Set("X-Api-Key", "key-123")
		req.Header.Set("Accept", "application/json")
		_, _ = policy.Do(req, func(*http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Header: http.Header{"Content-Type": {"application/json"}}}, nil
		})

		output := buf.String()
		if strings.Contains(output, "secret-token") || strings.Contains(output, "key-123") {
			t.Errorf("Expected sensitive headers redacted, got: %s", output)
		}
		if !strings.Contains(output, "[REDACTED]") || !strings.Contains(output, "Accept: application/json") {
			t.Errorf("Expected redacted and plain headers, got: %s", output)
		}
		if !strings.Contains(output, "response_headers") {
			t.Errorf("Expected response headers, got: %s", output)
		}
	})

	t.Run("nil logger", func(t *testing.T) {
		policy := NewLoggingPolicy(nil, nil)
		req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
		if _, err := policy.Do(req, func(*http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK}, nil
		}); err != nil {
			t.Errorf("Expected no error, got: %v", err)
		}
	})
}
