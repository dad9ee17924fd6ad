package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/tunehub/pkg/autherr"
	pkg_hash "github.com/Skotchmaster/tunehub/pkg/hash"
	"github.com/Skotchmaster/tunehub/pkg/logging"
	"github.com/Skotchmaster/tunehub/pkg/metrics"
	"github.com/Skotchmaster/tunehub/pkg/roles"
	"github.com/Skotchmaster/tunehub/pkg/tokens"
	"github.com/Skotchmaster/tunehub/pkg/totp"
	"github.com/Skotchmaster/tunehub/services/auth/internal/events"
	"github.com/Skotchmaster/tunehub/services/auth/internal/models"
	"github.com/Skotchmaster/tunehub/services/auth/internal/repo"
)

type UserRepo interface {
	CreateUser(ctx context.Context, u *models.User) error
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	List(ctx context.Context, offset, limit int) ([]models.User, int64, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	SaveTwoFactorSecret(ctx context.Context, id uuid.UUID, secret string) error
	EnableTwoFactor(ctx context.Context, id uuid.UUID, step int64) error
	ConsumeTwoFactorStep(ctx context.Context, id uuid.UUID, step int64) error
	UpdateRole(ctx context.Context, id uuid.UUID, role string) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type AuthService struct {
	Repo       UserRepo
	Tokens     *tokens.Codec
	Events     events.Publisher
	TOTPIssuer string
	Now        func() time.Time
}

type Session struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	User             *models.User
}

// LoginResult holds either a session or, for principals with 2FA enabled, a
// challenge token to redeem with CompleteLogin.
type LoginResult struct {
	Session           *Session
	RequiresTwoFactor bool
	ChallengeToken    string
}

type Decision struct {
	Valid    bool   `json:"valid"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type TwoFactorSetup struct {
	Secret string `json:"secret"`
	URI    string `json:"otpauthUri"`
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *AuthService) publish(ctx context.Context, e events.Event) {
	if s.Events == nil {
		return
	}
	e.At = s.now().UTC()
	s.Events.Publish(ctx, e)
}

func (s *AuthService) Signup(ctx context.Context, username, email, password string) (*Session, error) {
	l := logging.FromContext(ctx).With("svc", "auth.signup")

	user, err := s.createUser(ctx, username, email, password, roles.User)
	if err != nil {
		if errors.Is(err, autherr.ErrUserExists) {
			l.Warn("signup_failed", "status", 409, "reason", "user already exist")
		} else {
			l.Error("signup_failed", "status", 500, "error", err)
		}
		return nil, err
	}

	sess, err := s.issueSession(user)
	if err != nil {
		l.Error("signup_failed", "status", 500, "reason", "cannot issue tokens", "error", err)
		return nil, err
	}
	s.publish(ctx, events.Event{Type: events.UserSignedUp, UserID: user.ID.String(), Data: map[string]any{"username": user.Username}})
	l.Info("signup_successful", "user_id", user.ID)
	return sess, nil
}

// CreateAdmin creates an enabled ADMIN principal without issuing tokens.
func (s *AuthService) CreateAdmin(ctx context.Context, username, email, password string) (*models.User, error) {
	return s.createUser(ctx, username, email, password, roles.Admin)
}

func (s *AuthService) createUser(ctx context.Context, username, email, password, role string) (*models.User, error) {
	if username == "" || email == "" || password == "" {
		return nil, autherr.ErrValidation
	}
	pwHash, err := pkg_hash.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: pwHash,
		Role:         role,
		Enabled:      true,
	}
	if err := s.Repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repo.ErrUserAlreadyExist) {
			return nil, autherr.ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login checks the password before the account state so a disabled account
// costs the same as a wrong password, and both end as the same public error.
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login", "username", username)

	user, err := s.Repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			pkg_hash.BurnCompare(password)
			metrics.Logins.WithLabelValues("invalid_credentials").Inc()
			l.Warn("login_failed", "status", 401, "reason", "unknown username")
			return nil, autherr.ErrInvalidCredentials
		}
		l.Error("login_failed", "status", 500, "error", err)
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !pkg_hash.CheckPassword(user.PasswordHash, password) {
		metrics.Logins.WithLabelValues("invalid_credentials").Inc()
		l.Warn("login_failed", "status", 401, "reason", "wrong password")
		return nil, autherr.ErrInvalidCredentials
	}
	if !user.Enabled {
		metrics.Logins.WithLabelValues("disabled").Inc()
		l.Warn("login_failed", "status", 401, "reason", "account disabled")
		return nil, autherr.ErrAccountDisabled
	}

	if user.TwoFactorEnabled {
		challenge, _, err := s.Tokens.Issue(user.ID.String(), "", tokens.KindMFA)
		if err != nil {
			return nil, fmt.Errorf("issue challenge: %w", err)
		}
		metrics.Logins.WithLabelValues("challenge").Inc()
		l.Info("login_challenge_issued")
		return &LoginResult{RequiresTwoFactor: true, ChallengeToken: challenge}, nil
	}

	sess, err := s.finishLogin(ctx, user)
	if err != nil {
		l.Error("login_failed", "status", 500, "error", err)
		return nil, err
	}
	return &LoginResult{Session: sess}, nil
}

// CompleteLogin redeems a 2FA challenge token with a TOTP code.
func (s *AuthService) CompleteLogin(ctx context.Context, challenge, code string) (*Session, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login_2fa")

	claims, err := s.Tokens.VerifyKind(challenge, tokens.KindMFA)
	if err != nil {
		l.Warn("login_2fa_failed", "status", 401, "error", err)
		return nil, err
	}
	user, err := s.activeUser(ctx, claims.Subject)
	if err != nil {
		l.Warn("login_2fa_failed", "status", 401, "error", err)
		return nil, err
	}
	if !user.TwoFactorEnabled {
		return nil, autherr.ErrInvalidTwoFactorCode
	}
	step, ok := totp.VerifyStep(user.TwoFactorSecret, code, s.now(), user.TwoFactorStep)
	if ok {
		if err := s.Repo.ConsumeTwoFactorStep(ctx, user.ID, step); err != nil {
			if !errors.Is(err, repo.ErrStepUsed) {
				return nil, fmt.Errorf("consume totp step: %w", err)
			}
			ok = false
		}
	}
	if !ok {
		metrics.Logins.WithLabelValues("invalid_2fa").Inc()
		l.Warn("login_2fa_failed", "status", 401, "reason", "invalid or reused code", "user_id", user.ID)
		return nil, autherr.ErrInvalidTwoFactorCode
	}
	user.TwoFactorStep = step
	return s.finishLogin(ctx, user)
}

func (s *AuthService) finishLogin(ctx context.Context, user *models.User) (*Session, error) {
	at := s.now().UTC()
	if err := s.Repo.TouchLastLogin(ctx, user.ID, at); err != nil {
		return nil, fmt.Errorf("touch last login: %w", err)
	}
	user.LastLoginAt = &at

	sess, err := s.issueSession(user)
	if err != nil {
		return nil, err
	}
	metrics.Logins.WithLabelValues("success").Inc()
	s.publish(ctx, events.Event{Type: events.UserLoggedIn, UserID: user.ID.String()})
	logging.FromContext(ctx).Info("login_successful", "user_id", user.ID)
	return sess, nil
}

// Refresh rotates both tokens. The role comes from the current principal, not
// the presented token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	claims, err := s.Tokens.VerifyKind(refreshToken, tokens.KindRefresh)
	if err != nil {
		l.Warn("refresh_failed", "status", 401, "error", err)
		return nil, err
	}
	user, err := s.activeUser(ctx, claims.Subject)
	if err != nil {
		l.Warn("refresh_failed", "status", 401, "error", err)
		return nil, err
	}
	return s.issueSession(user)
}

// Validate introspects an access token. It reads only.
func (s *AuthService) Validate(ctx context.Context, accessToken string) (*Decision, error) {
	claims, err := s.Tokens.VerifyKind(accessToken, tokens.KindAccess)
	if err != nil {
		return nil, err
	}
	user, err := s.activeUser(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	return &Decision{Valid: true, UserID: user.ID.String(), Username: user.Username, Role: user.Role}, nil
}

func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, error) {
	return s.activeUser(ctx, userID)
}

// activeUser loads the subject of a verified token. Principals deleted or
// disabled since issuance make the token invalid.
func (s *AuthService) activeUser(ctx context.Context, subject string) (*models.User, error) {
	id, err := uuid.Parse(subject)
	if err != nil {
		return nil, autherr.ErrTokenInvalid
	}
	user, err := s.Repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, autherr.ErrTokenInvalid
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !user.Enabled {
		return nil, autherr.ErrTokenInvalid
	}
	return user, nil
}

func (s *AuthService) issueSession(user *models.User) (*Session, error) {
	sub := user.ID.String()
	access, ac, err := s.Tokens.Issue(sub, user.Role, tokens.KindAccess)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, rc, err := s.Tokens.Issue(sub, user.Role, tokens.KindRefresh)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &Session{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  ac.ExpiresAt.Time,
		RefreshExpiresAt: rc.ExpiresAt.Time,
		User:             user,
	}, nil
}
