package ratelimit

import (
	"fmt"
	"net/http"
	"time"
)

// ThrottledError is returned by Transport when the outbound budget for a
// downstream service is spent.
type ThrottledError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: outbound calls to %s throttled, retry after %s", e.Service, e.RetryAfter)
}

// Transport throttles outbound calls to one downstream service. It is keyed by
// service name, not by client.
type Transport struct {
	Base    http.RoundTripper
	Limiter *Limiter
	Service string
	Rule    Rule
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	res := t.Limiter.AllowResource(req.Context(), ResourceOutbound, t.Service, t.Rule)
	if !res.Allowed {
		return nil, &ThrottledError{Service: t.Service, RetryAfter: res.RetryAfter}
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
