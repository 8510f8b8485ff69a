package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of a failed response body is kept in a StatusError
const maxErrorBody = 512

// StatusError is returned when a server answers with a non-2xx status
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s returned %d %s: %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// CheckStatus returns a StatusError for non-2xx responses.
// The body of a failed response is consumed and closed.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	url := ""
	if resp.Request != nil {
		url = resp.Request.URL.String()
	}
	return &StatusError{
		StatusCode: resp.StatusCode,
		URL:        url,
		Body:       strings.TrimSpace(string(body)),
	}
}

// ErrorPolicy wraps transport errors with the request target
type ErrorPolicy struct{}

// NewErrorPolicy creates a new ErrorPolicy
func NewErrorPolicy() *ErrorPolicy {
	return &ErrorPolicy{}
}

// Do implements Policy interface
func (p *ErrorPolicy) Do(req *http.Request, next Next) (*http.Response, error) {
	resp, err := next(req)
	if err != nil {
		return resp, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	return resp, nil
}
