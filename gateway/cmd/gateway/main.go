package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/tunehub/gateway/internal/config"
	"github.com/Skotchmaster/tunehub/gateway/internal/httpserver"
	"github.com/Skotchmaster/tunehub/gateway/internal/middleware"
	"github.com/Skotchmaster/tunehub/pkg/authclient"
	pkgconfig "github.com/Skotchmaster/tunehub/pkg/config"
	"github.com/Skotchmaster/tunehub/pkg/logging"
	"github.com/Skotchmaster/tunehub/pkg/metrics"
	"github.com/Skotchmaster/tunehub/pkg/ratelimit"
)

func main() {
	pkgconfig.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.LogLevel)
	metrics.Init()

	policy, err := ratelimit.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatalf("rate limit policy: %v", err)
	}

	var store ratelimit.Store
	if cfg.RedisAddr != "" {
		rdb := ratelimit.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rdb.Close()
		pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rdb.Ping(pctx).Err(); err != nil {
			logger.Warn("redis_unreachable", "addr", cfg.RedisAddr, "error", err)
		}
		cancel()
		store = ratelimit.NewRedisStore(rdb)
	} else {
		logger.Warn("rate_limit_store_in_process", "reason", "REDIS_ADDR not set")
		store = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.New(store, ratelimit.WithTimeout(cfg.RateLimitTimeout))

	auth := authclient.NewClient(cfg.AuthURL, authclient.WithTimeout(cfg.AuthTimeout))
	hctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := auth.HealthCheck(hctx); err != nil {
		logger.Warn("identity_service_unreachable", "mode", "degraded", "url", cfg.AuthURL, "error", err)
	}
	cancel()

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second
	e.IPExtractor = echo.ExtractIPFromXFFHeader()

	e.Use(middleware.Common(logger)...)

	if err := httpserver.Register(e, &httpserver.Deps{
		AuthURL:     cfg.AuthURL,
		CatalogURL:  cfg.CatalogURL,
		PlaylistURL: cfg.PlaylistURL,
		Admission: &middleware.Admission{
			Limiter: limiter,
			Policy:  policy,
			Auth:    auth,
		},
		Health: &httpserver.Health{Auth: auth},
	}); err != nil {
		log.Fatal(err)
	}

	go func() {
		logger.Info("gateway_started", "addr", cfg.ListenAddr)
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
