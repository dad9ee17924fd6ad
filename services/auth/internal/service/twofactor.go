package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Skotchmaster/tunehub/pkg/autherr"
	"github.com/Skotchmaster/tunehub/pkg/logging"
	"github.com/Skotchmaster/tunehub/pkg/totp"
	"github.com/Skotchmaster/tunehub/services/auth/internal/events"
	"github.com/Skotchmaster/tunehub/services/auth/internal/repo"
)

// Setup2FA stores a new secret for userID. Login does not require a code until
// Verify2FA confirms it. Calling it again before confirmation replaces the
// secret.
func (s *AuthService) Setup2FA(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	l := logging.FromContext(ctx).With("svc", "auth.2fa_setup")

	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, autherr.ErrTwoFactorEnabled
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	if err := s.Repo.SaveTwoFactorSecret(ctx, user.ID, secret); err != nil {
		return nil, fmt.Errorf("save secret: %w", err)
	}
	l.Info("2fa_setup_started", "user_id", user.ID)
	return &TwoFactorSetup{
		Secret: secret,
		URI:    totp.ProvisioningURI(s.TOTPIssuer, user.Username, secret),
	}, nil
}

// Verify2FA confirms enrollment with a code from the authenticator and turns
// enforcement on.
func (s *AuthService) Verify2FA(ctx context.Context, userID, code string) error {
	l := logging.FromContext(ctx).With("svc", "auth.2fa_verify")

	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.TwoFactorEnabled {
		return autherr.ErrTwoFactorEnabled
	}
	if user.TwoFactorSecret == "" {
		return autherr.ErrTwoFactorNotEnrolled
	}
	step, ok := totp.VerifyStep(user.TwoFactorSecret, code, s.now(), user.TwoFactorStep)
	if !ok {
		l.Warn("2fa_verify_failed", "status", 401, "user_id", user.ID)
		return autherr.ErrInvalidTwoFactorCode
	}
	if err := s.Repo.EnableTwoFactor(ctx, user.ID, step); err != nil {
		if errors.Is(err, repo.ErrStepUsed) {
			return autherr.ErrInvalidTwoFactorCode
		}
		return fmt.Errorf("enable 2fa: %w", err)
	}
	s.publish(ctx, events.Event{Type: events.UserTwoFactorOn, UserID: user.ID.String()})
	l.Info("2fa_enabled", "user_id", user.ID)
	return nil
}
