package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/tunehub/pkg/authclient"
	"github.com/Skotchmaster/tunehub/pkg/autherr"
	"github.com/Skotchmaster/tunehub/pkg/bearer"
	"github.com/Skotchmaster/tunehub/pkg/logging"
	"github.com/Skotchmaster/tunehub/pkg/metrics"
	"github.com/Skotchmaster/tunehub/pkg/ratelimit"
)

const (
	CtxUserID      = "user_id"
	CtxUsername    = "username"
	CtxRole        = "role"
	CtxAuthFailure = "auth_failure"
)

// Identity is the authorization decision attached to an admitted request.
type Identity struct {
	UserID   string
	Username string
	Role     string
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller identity, or nil for anonymous requests.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// Validator is the remote token check, implemented by authclient.Client.
type Validator interface {
	ValidateToken(ctx context.Context, token string) (*authclient.Decision, error)
}

type Admission struct {
	Limiter *ratelimit.Limiter
	Policy  ratelimit.Policy
	Auth    Validator
}

type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthOptional
	AuthRequired
)

// Route describes the admission pipeline of one route. Resource may be empty
// for routes without a rate limit, Role empty for routes open to any
// authenticated caller.
type Route struct {
	Resource string
	Auth     AuthMode
	Role     string
}

// Chain builds the pipeline for a route. Client-keyed limits run before
// authentication. Subject-keyed limits need the subject and run after it.
// The role check comes last.
func (a *Admission) Chain(r Route) []echo.MiddlewareFunc {
	var chain []echo.MiddlewareFunc
	var rule ratelimit.Rule
	if r.Resource != "" {
		var ok bool
		rule, ok = a.Policy.Rule(r.Resource)
		if !ok {
			panic(fmt.Sprintf("gateway: no rate limit rule for resource %q", r.Resource))
		}
		if rule.KeyBy == ratelimit.KeyByClient {
			chain = append(chain, a.RateLimit(r.Resource))
		}
	}

	switch r.Auth {
	case AuthRequired:
		chain = append(chain, a.RequireAuth)
	case AuthOptional:
		chain = append(chain, a.OptionalAuth)
	}

	if r.Resource != "" && rule.KeyBy == ratelimit.KeyBySubject {
		chain = append(chain, a.RateLimit(r.Resource))
	}
	if r.Role != "" {
		chain = append(chain, RequireRole(r.Role))
	}
	return chain
}

// RateLimit enforces the policy rule for resource. Per-user rules are skipped
// when the request carries no subject.
func (a *Admission) RateLimit(resource string) echo.MiddlewareFunc {
	rule, ok := a.Policy.Rule(resource)
	if !ok {
		panic(fmt.Sprintf("gateway: no rate limit rule for resource %q", resource))
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			subject, _ := c.Get(CtxUserID).(string)
			id, ok := rule.KeyFor(c.RealIP(), subject)
			if !ok {
				metrics.RateLimitDecisions.WithLabelValues(resource, "skipped").Inc()
				return next(c)
			}

			res := a.Limiter.AllowResource(c.Request().Context(), resource, id, rule)
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if !res.Allowed {
				e := autherr.ErrRateLimitExceeded.WithRetryAfter(res.RetryAfter)
				h.Set("Retry-After", strconv.Itoa(e.RetryAfter))
				logging.FromContext(c.Request().Context()).Warn("rate_limited",
					"resource", resource, "retry_after", e.RetryAfter)
				return autherr.HTTPError(e)
			}
			return next(c)
		}
	}
}

// RequireAuth admits only requests whose bearer token the identity service
// accepts. Any failure to reach the identity service rejects the request.
func (a *Admission) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, reason, err := a.authenticate(c)
		if err != nil {
			metrics.AdmissionFailures.WithLabelValues("required", reason).Inc()
			logging.FromContext(c.Request().Context()).Warn("admission_rejected",
				"status", err.Status, "reason", reason)
			return autherr.HTTPError(err)
		}
		attach(c, id)
		return next(c)
	}
}

// OptionalAuth attaches the identity when the token is good and otherwise
// lets the request through anonymously, recording why.
func (a *Admission) OptionalAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, reason, err := a.authenticate(c)
		if err != nil {
			c.Set(CtxAuthFailure, reason)
			metrics.AdmissionFailures.WithLabelValues("optional", reason).Inc()
			if reason != "missing_token" {
				logging.FromContext(c.Request().Context()).Info("optional_auth_anonymous", "reason", reason)
			}
			return next(c)
		}
		attach(c, id)
		return next(c)
	}
}

func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get(CtxRole).(string)
			if role == "" {
				return autherr.HTTPError(autherr.ErrMissingToken)
			}
			if !slices.Contains(roles, role) {
				metrics.AdmissionFailures.WithLabelValues("required", "forbidden").Inc()
				logging.FromContext(c.Request().Context()).Warn("admission_forbidden", "role", role)
				return autherr.HTTPError(autherr.ErrForbidden)
			}
			return next(c)
		}
	}
}

func (a *Admission) authenticate(c echo.Context) (*Identity, string, *autherr.Error) {
	token, err := bearer.FromHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		if errors.Is(err, bearer.ErrMissing) {
			return nil, "missing_token", autherr.ErrMissingToken
		}
		return nil, "malformed_header", autherr.ErrMissingToken
	}

	d, err := a.Auth.ValidateToken(c.Request().Context(), token)
	if err != nil {
		var rej *authclient.RejectedError
		switch {
		case errors.As(err, &rej):
			if e, ok := autherr.ByCode(rej.Code); ok && e.Status == http.StatusUnauthorized {
				return nil, e.Code, e
			}
			return nil, autherr.ErrTokenInvalid.Code, autherr.ErrTokenInvalid
		case errors.Is(err, authclient.ErrTimeout):
			logging.FromContext(c.Request().Context()).Warn("identity_timeout", "error", err)
			return nil, "upstream_timeout", autherr.ErrUpstreamUnreachable
		default:
			logging.FromContext(c.Request().Context()).Warn("identity_unreachable", "error", err)
			return nil, "upstream_unreachable", autherr.ErrUpstreamUnreachable
		}
	}
	return &Identity{UserID: d.UserID, Username: d.Username, Role: d.Role}, "", nil
}

func attach(c echo.Context, id *Identity) {
	c.Set(CtxUserID, id.UserID)
	c.Set(CtxUsername, id.Username)
	c.Set(CtxRole, id.Role)

	req := c.Request()
	ctx := WithIdentity(req.Context(), id)
	ctx = logging.IntoContext(ctx, logging.FromContext(ctx).With("user_id", id.UserID))
	c.SetRequest(req.WithContext(ctx))
}
