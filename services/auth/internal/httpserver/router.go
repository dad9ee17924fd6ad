package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/tunehub/pkg/metrics"
	"github.com/Skotchmaster/tunehub/pkg/roles"
	"github.com/Skotchmaster/tunehub/services/auth/internal/middleware"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	AuthHandler  *AuthHTTP
	AdminHandler *AdminHTTP
	DB           Pinger
}

func Register(e *echo.Echo, d *Deps) {
	e.Validator = NewRequestValidator()

	health := func(c echo.Context) error { return c.JSON(http.StatusOK, echo.Map{"status": "ok"}) }
	e.GET("/health", health)
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := d.DB.Ping(ctx); err != nil {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	authMw := middleware.NewBearerAuth(d.AuthHandler.Svc)

	e.POST("/auth/signup", d.AuthHandler.Signup)
	e.POST("/auth/login", d.AuthHandler.Login)
	e.POST("/auth/login/2fa", d.AuthHandler.Login2FA)
	e.POST("/auth/refresh", d.AuthHandler.Refresh)
	e.POST("/auth/validate", d.AuthHandler.Validate)

	private := e.Group("/auth")
	private.Use(authMw.RequireAuth)
	private.GET("/me", d.AuthHandler.Me)
	private.POST("/2fa/setup", d.AuthHandler.Setup2FA)
	private.POST("/2fa/verify", d.AuthHandler.Verify2FA)

	admin := e.Group("/admin")
	admin.Use(authMw.RequireAuth, middleware.RequireRole(roles.Admin))
	admin.GET("/users", d.AdminHandler.List)
	admin.PATCH("/users/:id/role", d.AdminHandler.ChangeRole)
	admin.PATCH("/users/:id/status", d.AdminHandler.SetStatus)
	admin.DELETE("/users/:id", d.AdminHandler.Delete)
}
