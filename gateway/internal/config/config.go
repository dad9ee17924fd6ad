package config

import (
	"os"
	"time"

	pkgconfig "github.com/Skotchmaster/tunehub/pkg/config"
)

type Config struct {
	ListenAddr  string
	AuthURL     string
	CatalogURL  string
	PlaylistURL string

	// RedisAddr empty keeps rate-limit windows in process.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PolicyFile       string
	RateLimitTimeout time.Duration
	AuthTimeout      time.Duration

	LogLevel string
}

func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:       pkgconfig.EnvDefault("GATEWAY_ADDR", ":8080"),
		AuthURL:          os.Getenv("AUTH_URL"),
		CatalogURL:       os.Getenv("CATALOG_URL"),
		PlaylistURL:      os.Getenv("PLAYLIST_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          pkgconfig.EnvIntDefault("REDIS_DB", 0),
		PolicyFile:       os.Getenv("RATE_LIMIT_POLICY_FILE"),
		RateLimitTimeout: pkgconfig.EnvDurationDefault("RATE_LIMIT_TIMEOUT", 200*time.Millisecond),
		AuthTimeout:      pkgconfig.EnvDurationDefault("AUTH_TIMEOUT", 2*time.Second),
		LogLevel:         pkgconfig.EnvDefault("LOG_LEVEL", "info"),
	}
	if err := pkgconfig.NonEmpty(cfg.AuthURL, "AUTH_URL"); err != nil {
		return nil, err
	}
	return cfg, nil
}
