package middleware

import (
	"context"
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/tunehub/pkg/autherr"
	"github.com/Skotchmaster/tunehub/pkg/bearer"
	"github.com/Skotchmaster/tunehub/pkg/logging"
	"github.com/Skotchmaster/tunehub/services/auth/internal/service"
)

const (
	CtxUserID   = "user_id"
	CtxUsername = "username"
	CtxRole     = "role"
)

type Validator interface {
	Validate(ctx context.Context, accessToken string) (*service.Decision, error)
}

// BearerAuth guards the identity service's own routes with the same check
// the gateway delegates to /auth/validate.
type BearerAuth struct {
	Validator Validator
}

func NewBearerAuth(v Validator) *BearerAuth {
	return &BearerAuth{Validator: v}
}

func (m *BearerAuth) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		token, err := bearer.FromHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return autherr.HTTPError(autherr.ErrMissingToken)
		}
		d, err := m.Validator.Validate(ctx, token)
		if err != nil {
			logging.FromContext(ctx).Warn("auth_rejected", "status", 401, "error", err)
			return autherr.HTTPError(err)
		}
		c.Set(CtxUserID, d.UserID)
		c.Set(CtxUsername, d.Username)
		c.Set(CtxRole, d.Role)
		return next(c)
	}
}

func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get(CtxRole).(string)
			if !slices.Contains(roles, role) {
				return autherr.HTTPError(autherr.ErrForbidden)
			}
			return next(c)
		}
	}
}
