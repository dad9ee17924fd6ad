package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/tunehub/gateway/internal/middleware"
	"github.com/Skotchmaster/tunehub/pkg/metrics"
	"github.com/Skotchmaster/tunehub/pkg/ratelimit"
	"github.com/Skotchmaster/tunehub/pkg/roles"
)

type Deps struct {
	AuthURL     string
	CatalogURL  string
	PlaylistURL string

	Admission *middleware.Admission
	Health    *Health
}

var writeMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

func Register(e *echo.Echo, d *Deps) error {
	e.GET("/health", d.Health.Status)
	e.GET("/health/live", d.Health.Live)
	e.GET("/health/ready", d.Health.Ready)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	a := d.Admission

	authProxy, err := newProxy(d.AuthURL, "/api/v1", baseTransport())
	if err != nil {
		return err
	}

	attempt := a.Chain(middleware.Route{Resource: ratelimit.ResourceAuthAttempt})
	for _, p := range []string{"/login", "/login/2fa", "/signup", "/refresh"} {
		e.POST("/api/v1/auth"+p, authProxy, attempt...)
	}
	e.Any("/api/v1/auth/*", authProxy)

	admin := e.Group("/api/v1/admin", a.Chain(middleware.Route{Auth: middleware.AuthRequired, Role: roles.Admin})...)
	admin.Any("/*", authProxy)

	if d.CatalogURL != "" {
		catalogProxy, err := newProxy(d.CatalogURL, "/api/v1", throttled(a.Limiter, a.Policy, "catalog"))
		if err != nil {
			return err
		}
		search := a.Chain(middleware.Route{Resource: ratelimit.ResourceSearch, Auth: middleware.AuthOptional})
		e.GET("/api/v1/search", catalogProxy, search...)
		e.GET("/api/v1/search/*", catalogProxy, search...)

		stream := a.Chain(middleware.Route{Resource: ratelimit.ResourceStream, Auth: middleware.AuthRequired})
		e.GET("/api/v1/stream/*", catalogProxy, stream...)
	}

	if d.PlaylistURL != "" {
		playlistProxy, err := newProxy(d.PlaylistURL, "/api/v1", throttled(a.Limiter, a.Policy, "playlist"))
		if err != nil {
			return err
		}
		read := a.Chain(middleware.Route{Auth: middleware.AuthRequired})
		write := a.Chain(middleware.Route{Resource: ratelimit.ResourcePlaylistWrite, Auth: middleware.AuthRequired})
		for _, p := range []string{"/api/v1/playlists", "/api/v1/playlists/*"} {
			e.GET(p, playlistProxy, read...)
			e.Match(writeMethods, p, playlistProxy, write...)
		}
	}

	return nil
}
