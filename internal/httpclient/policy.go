package httpclient

import (
	"net/http"
)

// Next sends the request to the rest of the chain
type Next func(*http.Request) (*http.Response, error)

// Policy is a client-side middleware around a request
type Policy interface {
	// Do may modify req, must call next at most once per attempt and returns its result
	Do(req *http.Request, next Next) (*http.Response, error)
}

// PolicyFunc adapts a function to the Policy interface
type PolicyFunc func(req *http.Request, next Next) (*http.Response, error)

// Do implements Policy interface
func (f PolicyFunc) Do(req *http.Request, next Next) (*http.Response, error) {
	return f(req, next)
}
