package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/tunehub/pkg/autherr"
	"github.com/Skotchmaster/tunehub/pkg/bearer"
	"github.com/Skotchmaster/tunehub/pkg/logging"
	"github.com/Skotchmaster/tunehub/services/auth/internal/middleware"
	"github.com/Skotchmaster/tunehub/services/auth/internal/models"
	"github.com/Skotchmaster/tunehub/services/auth/internal/service"
)

type AuthHTTP struct {
	Svc *service.AuthService
}

type signupRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email"    validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type login2FARequest struct {
	ChallengeToken string `json:"challengeToken" validate:"required"`
	Code           string `json:"code"           validate:"required,len=6,numeric"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type codeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

type sessionResponse struct {
	AccessToken      string       `json:"accessToken"`
	RefreshToken     string       `json:"refreshToken"`
	AccessExpiresAt  time.Time    `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time    `json:"refreshExpiresAt"`
	User             *models.User `json:"user,omitempty"`
}

func toResponse(s *service.Session, withUser bool) sessionResponse {
	r := sessionResponse{
		AccessToken:      s.AccessToken,
		RefreshToken:     s.RefreshToken,
		AccessExpiresAt:  s.AccessExpiresAt,
		RefreshExpiresAt: s.RefreshExpiresAt,
	}
	if withUser {
		r.User = s.User
	}
	return r
}

// bind decodes and validates the body. Failures are 400 with the generic
// validation body.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return autherr.HTTPError(autherr.ErrValidation)
	}
	if err := c.Validate(req); err != nil {
		return autherr.HTTPError(autherr.ErrValidation)
	}
	return nil
}

func (h *AuthHTTP) Signup(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_signup")

	var req signupRequest
	if err := bind(c, &req); err != nil {
		l.Warn("signup_error", "status", 400)
		return err
	}

	sess, err := h.Svc.Signup(ctx, req.Username, req.Email, req.Password)
	if err != nil {
		return autherr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, toResponse(sess, true))
}

func (h *AuthHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req loginRequest
	if err := bind(c, &req); err != nil {
		l.Warn("login_error", "status", 400)
		return err
	}

	res, err := h.Svc.Login(ctx, req.Username, req.Password)
	if err != nil {
		return autherr.HTTPError(err)
	}
	if res.RequiresTwoFactor {
		return c.JSON(http.StatusOK, echo.Map{
			"requires2FA":    true,
			"challengeToken": res.ChallengeToken,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"accessToken":      res.Session.AccessToken,
		"refreshToken":     res.Session.RefreshToken,
		"accessExpiresAt":  res.Session.AccessExpiresAt,
		"refreshExpiresAt": res.Session.RefreshExpiresAt,
		"user":             res.Session.User,
		"requires2FA":      false,
	})
}

func (h *AuthHTTP) Login2FA(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login_2fa")

	var req login2FARequest
	if err := bind(c, &req); err != nil {
		l.Warn("login_2fa_error", "status", 400)
		return err
	}

	sess, err := h.Svc.CompleteLogin(ctx, req.ChallengeToken, req.Code)
	if err != nil {
		return autherr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, toResponse(sess, true))
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_refresh")

	var req refreshRequest
	if err := bind(c, &req); err != nil {
		l.Warn("refresh_error", "status", 400)
		return err
	}

	sess, err := h.Svc.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return autherr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, toResponse(sess, false))
}

// Validate is the introspection endpoint the gateway calls for every
// protected request.
func (h *AuthHTTP) Validate(c echo.Context) error {
	ctx := c.Request().Context()

	token, err := bearer.FromHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return autherr.HTTPError(autherr.ErrMissingToken)
	}
	d, err := h.Svc.Validate(ctx, token)
	if err != nil {
		var ae *autherr.Error
		if !errors.As(err, &ae) {
			logging.FromContext(ctx).With("handler", "auth_validate").Error("validate_error", "status", 500, "error", err)
		}
		return autherr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *AuthHTTP) Me(c echo.Context) error {
	uid, _ := c.Get(middleware.CtxUserID).(string)
	u, err := h.Svc.Me(c.Request().Context(), uid)
	if err != nil {
		return autherr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *AuthHTTP) Setup2FA(c echo.Context) error {
	uid, _ := c.Get(middleware.CtxUserID).(string)
	setup, err := h.Svc.Setup2FA(c.Request().Context(), uid)
	if err != nil {
		return autherr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, setup)
}

func (h *AuthHTTP) Verify2FA(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_2fa_verify")

	var req codeRequest
	if err := bind(c, &req); err != nil {
		l.Warn("2fa_verify_error", "status", 400)
		return err
	}
	uid, _ := c.Get(middleware.CtxUserID).(string)
	if err := h.Svc.Verify2FA(ctx, uid, req.Code); err != nil {
		return autherr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"twoFactorEnabled": true})
}
