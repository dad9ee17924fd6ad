package httpserver

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/tunehub/pkg/autherr"
	"github.com/Skotchmaster/tunehub/services/auth/internal/middleware"
	"github.com/Skotchmaster/tunehub/services/auth/internal/service"
)

type AdminHTTP struct {
	Svc *service.AuthService
}

type roleRequest struct {
	Role string `json:"role" validate:"required,oneof=USER ADMIN"`
}

type statusRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *AdminHTTP) List(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("size"))
	res, err := h.Svc.ListUsers(c.Request().Context(), page, size)
	if err != nil {
		return autherr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *AdminHTTP) ChangeRole(c echo.Context) error {
	var req roleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	actor, _ := c.Get(middleware.CtxUserID).(string)
	if err := h.Svc.ChangeRole(c.Request().Context(), actor, c.Param("id"), req.Role); err != nil {
		return autherr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": c.Param("id"), "role": req.Role})
}

func (h *AdminHTTP) SetStatus(c echo.Context) error {
	var req statusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	actor, _ := c.Get(middleware.CtxUserID).(string)
	if err := h.Svc.SetStatus(c.Request().Context(), actor, c.Param("id"), *req.Enabled); err != nil {
		return autherr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": c.Param("id"), "enabled": *req.Enabled})
}

func (h *AdminHTTP) Delete(c echo.Context) error {
	actor, _ := c.Get(middleware.CtxUserID).(string)
	if err := h.Svc.DeleteUser(c.Request().Context(), actor, c.Param("id")); err != nil {
		return autherr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
