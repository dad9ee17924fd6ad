package config

import (
	"context"
	"os"
	"time"

	"gorm.io/gorm"

	pkgconfig "github.com/Skotchmaster/tunehub/pkg/config"
	"github.com/Skotchmaster/tunehub/pkg/db"
	"github.com/Skotchmaster/tunehub/pkg/tokens"
)

type Config struct {
	ListenAddr  string
	DatabaseURL string

	JWTSecret       []byte
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	MFAChallengeTTL time.Duration
	TOTPIssuer      string

	KafkaBrokers   []string
	KafkaUserTopic string

	LogLevel string
}

// Load reads the environment. The signing secret is required; the database
// URL is checked by InitDB so commands that need no database still run.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      pkgconfig.EnvDefault("AUTH_ADDR", ":8081"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		JWTSecret:       []byte(os.Getenv("JWT_SECRET")),
		JWTIssuer:       pkgconfig.EnvDefault("JWT_ISSUER", "tunehub-auth"),
		AccessTokenTTL:  pkgconfig.EnvDurationDefault("ACCESS_TOKEN_TTL", tokens.DefaultAccessTTL),
		RefreshTokenTTL: pkgconfig.EnvDurationDefault("REFRESH_TOKEN_TTL", tokens.DefaultRefreshTTL),
		MFAChallengeTTL: pkgconfig.EnvDurationDefault("MFA_CHALLENGE_TTL", tokens.DefaultMFATTL),
		TOTPIssuer:      pkgconfig.EnvDefault("TOTP_ISSUER", "TuneHub"),
		KafkaBrokers:    pkgconfig.CSV(os.Getenv("KAFKA_BROKERS")),
		KafkaUserTopic:  pkgconfig.EnvDefault("KAFKA_USER_TOPIC", "user_events"),
		LogLevel:        pkgconfig.EnvDefault("LOG_LEVEL", "info"),
	}
	if err := pkgconfig.NonEmptyBytes(cfg.JWTSecret, "JWT_SECRET"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Codec builds the token codec from the loaded settings.
func (c *Config) Codec() (*tokens.Codec, error) {
	return tokens.NewCodec(c.JWTSecret,
		tokens.WithIssuer(c.JWTIssuer),
		tokens.WithTTL(tokens.KindAccess, c.AccessTokenTTL),
		tokens.WithTTL(tokens.KindRefresh, c.RefreshTokenTTL),
		tokens.WithTTL(tokens.KindMFA, c.MFAChallengeTTL),
	)
}

func InitDB(ctx context.Context, dsn string) (*gorm.DB, error) {
	return db.Open(ctx, dsn)
}
