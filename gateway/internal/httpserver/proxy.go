package httpserver

import (
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v4"

	"github.com/Skotchmaster/tunehub/gateway/internal/middleware"
	"github.com/Skotchmaster/tunehub/pkg/autherr"
	"github.com/Skotchmaster/tunehub/pkg/logging"
	"github.com/Skotchmaster/tunehub/pkg/ratelimit"
)

func baseTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 60 * time.Second,
		}).DialContext,
		MaxIdleConns:          200,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// newProxy forwards to target with stripPrefix removed from the path. The
// caller identity attached by admission is passed on in X-User-* headers.
func newProxy(target, stripPrefix string, transport http.RoundTripper) (echo.HandlerFunc, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("proxy target must be an absolute URL: " + target)
	}

	p := httputil.NewSingleHostReverseProxy(u)
	p.Transport = transport

	origDirector := p.Director
	p.Director = func(req *http.Request) {
		originalHost := req.Host
		originalProto := "http"
		if req.TLS != nil {
			originalProto = "https"
		} else if xf := req.Header.Get("X-Forwarded-Proto"); xf != "" {
			originalProto = xf
		}

		origDirector(req)

		if stripPrefix != "" && strings.HasPrefix(req.URL.Path, stripPrefix) {
			req.URL.Path = strings.TrimPrefix(req.URL.Path, stripPrefix)
			if rp := req.URL.RawPath; rp != "" && strings.HasPrefix(rp, stripPrefix) {
				req.URL.RawPath = strings.TrimPrefix(rp, stripPrefix)
			}
		}

		if req.Header.Get("X-Forwarded-Proto") == "" {
			req.Header.Set("X-Forwarded-Proto", originalProto)
		}
		if req.Header.Get("X-Forwarded-Host") == "" && originalHost != "" {
			req.Header.Set("X-Forwarded-Host", originalHost)
		}

		if id := middleware.IdentityFrom(req.Context()); id != nil {
			req.Header.Set(middleware.HeaderUserID, id.UserID)
			req.Header.Set(middleware.HeaderUsername, id.Username)
			req.Header.Set(middleware.HeaderUserRole, id.Role)
		}
	}

	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		var te *ratelimit.ThrottledError
		if errors.As(err, &te) {
			body := autherr.ErrRateLimitExceeded.WithRetryAfter(te.RetryAfter)
			w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
			writeJSON(w, http.StatusTooManyRequests, body)
			return
		}
		logging.FromContext(r.Context()).Error("proxy_error", "target", u.Host, "error", err)
		writeJSON(w, http.StatusBadGateway, echo.Map{"error": "bad_gateway", "message": "upstream request failed"})
	}

	p.FlushInterval = 100 * time.Millisecond

	return func(c echo.Context) error {
		p.ServeHTTP(c.Response(), c.Request())
		return nil
	}, nil
}

// throttled wraps the base transport with the outbound budget for service
// when the policy has one.
func throttled(limiter *ratelimit.Limiter, policy ratelimit.Policy, service string) http.RoundTripper {
	base := baseTransport()
	rule, ok := policy.OutboundRule(service)
	if !ok || limiter == nil {
		return base
	}
	return &ratelimit.Transport{Base: base, Limiter: limiter, Service: service, Rule: rule}
}
