package httpclient

import (
	"fmt"
	"net/http"
	"runtime"
)

var defaultUserAgent = fmt.Sprintf(
	"tcprelay (Go/%s; %s/%s)",
	runtime.Version(), runtime.GOOS, runtime.GOARCH,
)

// UserAgentPolicy sets the User-Agent header
type UserAgentPolicy struct {
	userAgent string
}

// NewUserAgentPolicy creates a new UserAgentPolicy
func NewUserAgentPolicy(userAgent string) *UserAgentPolicy {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &UserAgentPolicy{userAgent: userAgent}
}

// Do implements Policy interface
func (p *UserAgentPolicy) Do(req *http.Request, next Next) (*http.Response, error) {
	req.Header.Set("User-Agent", p.userAgent)
	return next(req)
}
