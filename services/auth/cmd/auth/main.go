package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	ecM "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	pkgconfig "github.com/Skotchmaster/tunehub/pkg/config"
	"github.com/Skotchmaster/tunehub/pkg/db"
	"github.com/Skotchmaster/tunehub/pkg/logging"
	"github.com/Skotchmaster/tunehub/pkg/metrics"
	loggingmw "github.com/Skotchmaster/tunehub/pkg/middleware/logging"
	"github.com/Skotchmaster/tunehub/services/auth/internal/config"
	"github.com/Skotchmaster/tunehub/services/auth/internal/events"
	"github.com/Skotchmaster/tunehub/services/auth/internal/httpserver"
	"github.com/Skotchmaster/tunehub/services/auth/internal/repo"
	"github.com/Skotchmaster/tunehub/services/auth/internal/service"
)

func main() {
	pkgconfig.LoadDotEnv()

	root := &cobra.Command{
		Use:           "auth",
		Short:         "TuneHub identity service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), createAdminCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel)
			metrics.Init()

			gdb, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close(gdb)
			if err := repo.Migrate(gdb); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			var publisher events.Publisher = events.Nop{}
			if len(cfg.KafkaBrokers) > 0 {
				publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaUserTopic)
				logger.Info("user_events_enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaUserTopic)
			}
			defer publisher.Close()

			svc, err := newService(cfg, repo.New(gdb), publisher)
			if err != nil {
				return err
			}

			e := echo.New()
			e.HideBanner = true
			e.Server.ReadTimeout = 10 * time.Second
			e.Server.WriteTimeout = 15 * time.Second
			e.Server.ReadHeaderTimeout = 3 * time.Second
			e.Use(
				ecM.Recover(),
				ecM.RequestID(),
				loggingmw.RequestLogger(logger),
				metrics.Middleware("auth"),
			)

			httpserver.Register(e, &httpserver.Deps{
				AuthHandler:  &httpserver.AuthHTTP{Svc: svc},
				AdminHandler: &httpserver.AdminHTTP{Svc: svc},
				DB:           repo.New(gdb),
			})

			return run(e, cfg.ListenAddr, logger)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			gdb, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close(gdb)
			if err := repo.Migrate(gdb); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func createAdminCmd() *cobra.Command {
	var username, email, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create a principal with the ADMIN role",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("ADMIN_PASSWORD")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			gdb, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close(gdb)
			if err := repo.Migrate(gdb); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			svc, err := newService(cfg, repo.New(gdb), events.Nop{})
			if err != nil {
				return err
			}
			u, err := svc.CreateAdmin(cmd.Context(), username, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", u.Username, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "admin username")
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&password, "password", "", "admin password (env ADMIN_PASSWORD)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func openDB(parent context.Context, cfg *config.Config) (*gorm.DB, error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()
	gdb, err := config.InitDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db init: %w", err)
	}
	return gdb, nil
}

func newService(cfg *config.Config, r *repo.GormRepo, p events.Publisher) (*service.AuthService, error) {
	codec, err := cfg.Codec()
	if err != nil {
		return nil, err
	}
	return &service.AuthService{
		Repo:       r,
		Tokens:     codec,
		Events:     p,
		TOTPIssuer: cfg.TOTPIssuer,
	}, nil
}

func run(e *echo.Echo, addr string, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("auth_started", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("start: %w", err)
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(ctx)
}
