package httpclient

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader is the header carrying the client generated request id
const RequestIDHeader = "X-Client-Request-Id"

type requestIDKey struct{}

// WithRequestID makes requests sent with ctx carry id instead of a generated one
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDPolicy tags each request with a unique id
type RequestIDPolicy struct {
	headerName string
}

// NewRequestIDPolicy creates a new RequestIDPolicy
func NewRequestIDPolicy(headerName string) *RequestIDPolicy {
	if headerName == "" {
		headerName = RequestIDHeader
	}
	return &RequestIDPolicy{headerName: headerName}
}

// Do implements Policy interface.
// An id already present on the request is kept so retries share it.
func (p *RequestIDPolicy) Do(req *http.Request, next Next) (*http.Response, error) {
	if req.Header.Get(p.headerName) == "" {
		id, _ := req.Context().Value(requestIDKey{}).(string)
		if id == "" {
			id = uuid.NewString()
		}
		req.Header.Set(p.headerName, id)
	}
	return next(req)
}
