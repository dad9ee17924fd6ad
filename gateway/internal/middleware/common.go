package middleware

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	ecM "github.com/labstack/echo/v4/middleware"

	"github.com/Skotchmaster/tunehub/pkg/metrics"
	loggingmw "github.com/Skotchmaster/tunehub/pkg/middleware/logging"
)

// Identity headers the gateway sets for backends after admission.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUsername = "X-Username"
	HeaderUserRole = "X-User-Role"
)

func Common(log *slog.Logger) []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{
		ecM.Recover(),
		ecM.RequestID(),
		loggingmw.RequestLogger(log),
		metrics.Middleware("gateway"),
		ecM.Secure(),
		StripIdentityHeaders,
	}
}

// StripIdentityHeaders drops client-supplied identity headers so only values
// set by admission reach a backend.
func StripIdentityHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Request().Header
		h.Del(HeaderUserID)
		h.Del(HeaderUsername)
		h.Del(HeaderUserRole)
		return next(c)
	}
}
