package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
)

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Health struct {
	Auth HealthChecker
}

func (h *Health) identityUp(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return h.Auth.HealthCheck(ctx) == nil
}

// Status always answers 200 and reports degraded mode in the body.
func (h *Health) Status(c echo.Context) error {
	status, identity := "ok", "up"
	if !h.identityUp(c.Request().Context()) {
		status, identity = "degraded", "down"
	}
	return c.JSON(http.StatusOK, echo.Map{"status": status, "identity": identity})
}

func (h *Health) Live(c echo.Context) error { return c.NoContent(http.StatusOK) }

func (h *Health) Ready(c echo.Context) error {
	if !h.identityUp(c.Request().Context()) {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
