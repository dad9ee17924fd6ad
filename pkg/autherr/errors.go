// Package autherr is the error taxonomy of the authentication layer. Every
// value carries a stable code, a caller-safe message and the HTTP status it
// maps to.
package autherr

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type Error struct {
	Code       string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Status     int    `json:"-"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// MarshalJSON makes echo's error handler render the body as is instead of
// flattening it through Error().
func (e *Error) MarshalJSON() ([]byte, error) {
	type body Error
	return json.Marshal((*body)(e))
}

// Is matches on Code so copies made by WithRetryAfter still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) WithRetryAfter(d time.Duration) *Error {
	cp := *e
	cp.RetryAfter = Seconds(d)
	return &cp
}

func newErr(code, msg string, status int) *Error {
	return &Error{Code: code, Message: msg, Status: status}
}

var (
	ErrInvalidCredentials   = newErr("invalid_credentials", "invalid username or password", http.StatusUnauthorized)
	ErrAccountDisabled      = newErr("account_disabled", "account is disabled", http.StatusUnauthorized)
	ErrTokenExpired         = newErr("token_expired", "token has expired", http.StatusUnauthorized)
	ErrTokenMalformed       = newErr("token_malformed", "token is malformed", http.StatusUnauthorized)
	ErrTokenInvalid         = newErr("token_invalid", "token is invalid", http.StatusUnauthorized)
	ErrTokenWrongKind       = newErr("token_wrong_kind", "token kind is not accepted here", http.StatusUnauthorized)
	ErrMissingToken         = newErr("missing_token", "authorization header must be \"Bearer <token>\"", http.StatusUnauthorized)
	ErrRateLimitExceeded    = newErr("rate_limit_exceeded", "too many requests", http.StatusTooManyRequests)
	ErrUpstreamUnreachable  = newErr("upstream_unreachable", "identity service is unavailable", http.StatusUnauthorized)
	ErrInvalidTwoFactorCode = newErr("invalid_two_factor_code", "invalid two-factor code", http.StatusUnauthorized)
	ErrTwoFactorNotEnrolled = newErr("two_factor_not_enrolled", "two-factor setup has not been started", http.StatusConflict)
	ErrTwoFactorEnabled     = newErr("two_factor_already_enabled", "two-factor authentication is already enabled", http.StatusConflict)
	ErrForbidden            = newErr("forbidden", "insufficient role", http.StatusForbidden)
	ErrUserExists           = newErr("user_exists", "username or email already taken", http.StatusConflict)
	ErrNotFound             = newErr("not_found", "not found", http.StatusNotFound)
	ErrValidation           = newErr("validation_failed", "request is invalid", http.StatusBadRequest)
	ErrInternal             = newErr("internal_error", "internal server error", http.StatusInternalServerError)
)

var byCode = func() map[string]*Error {
	m := make(map[string]*Error)
	for _, e := range []*Error{
		ErrInvalidCredentials, ErrAccountDisabled, ErrTokenExpired, ErrTokenMalformed,
		ErrTokenInvalid, ErrTokenWrongKind, ErrMissingToken, ErrRateLimitExceeded,
		ErrUpstreamUnreachable, ErrInvalidTwoFactorCode, ErrTwoFactorNotEnrolled,
		ErrTwoFactorEnabled, ErrForbidden, ErrUserExists, ErrNotFound, ErrValidation,
		ErrInternal,
	} {
		m[e.Code] = e
	}
	return m
}()

// ByCode returns the sentinel for a code received from another service.
func ByCode(code string) (*Error, bool) {
	e, ok := byCode[code]
	return e, ok
}

// Public maps an error to the body a caller may see. Account-state failures
// collapse into ErrInvalidCredentials so responses never reveal whether an
// account exists or is disabled. Unknown errors become ErrInternal.
func Public(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return ErrInternal
	}
	if errors.Is(e, ErrAccountDisabled) {
		return ErrInvalidCredentials
	}
	return e
}

func HTTPError(err error) *echo.HTTPError {
	pub := Public(err)
	he := echo.NewHTTPError(pub.Status, pub)
	if pub == ErrInternal && err != nil {
		he = he.SetInternal(err)
	}
	return he
}

// Seconds rounds up to whole seconds with a floor of one, the Retry-After unit.
func Seconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
