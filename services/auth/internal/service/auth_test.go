package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/tunehub/pkg/autherr"
	"github.com/Skotchmaster/tunehub/pkg/roles"
	"github.com/Skotchmaster/tunehub/pkg/tokens"
	"github.com/Skotchmaster/tunehub/pkg/totp"
	"github.com/Skotchmaster/tunehub/services/auth/internal/events"
	"github.com/Skotchmaster/tunehub/services/auth/internal/repo"
	"github.com/Skotchmaster/tunehub/services/auth/internal/testdb"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) Close() error { return nil }

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type env struct {
	svc    *AuthService
	repo   *repo.GormRepo
	clock  *clock
	events *recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()

	c := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	codec, err := tokens.NewCodec([]byte("test-jwt-secret"), tokens.WithClock(c.Now), tokens.WithIssuer("tunehub-test"))
	require.NoError(t, err)

	r := repo.New(testdb.Open(t))
	rec := &recorder{}
	return &env{
		svc: &AuthService{
			Repo:       r,
			Tokens:     codec,
			Events:     rec,
			TOTPIssuer: "TuneHub",
			Now:        c.Now,
		},
		repo:   r,
		clock:  c,
		events: rec,
	}
}

func (e *env) signup(t *testing.T, name string) *Session {
	t.Helper()
	sess, err := e.svc.Signup(context.Background(), name, name+"@example.com", "correct horse")
	require.NoError(t, err)
	return sess
}

func TestSignup(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	sess := e.signup(t, "ann")

	assert.Equal(t, roles.User, sess.User.Role)
	assert.True(t, sess.User.Enabled)
	assert.NotEmpty(t, sess.AccessToken)
	assert.NotEmpty(t, sess.RefreshToken)
	assert.True(t, sess.AccessExpiresAt.Before(sess.RefreshExpiresAt))
	assert.Equal(t, []string{events.UserSignedUp}, e.events.types())

	kind, err := e.svc.Tokens.KindOf(sess.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.KindRefresh, kind)
}

func TestSignup_Collisions(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.signup(t, "ann")
	ctx := context.Background()

	_, err := e.svc.Signup(ctx, "ann", "new@example.com", "pw")
	assert.ErrorIs(t, err, autherr.ErrUserExists)
	_, err = e.svc.Signup(ctx, "ann2", "ann@example.com", "pw")
	assert.ErrorIs(t, err, autherr.ErrUserExists)

	_, err = e.svc.Signup(ctx, "Ann", "Ann@example.com", "pw")
	assert.NoError(t, err, "collision checks are case-sensitive")
}

func TestLogin(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.signup(t, "ann")

	res, err := e.svc.Login(context.Background(), "ann", "correct horse")
	require.NoError(t, err)
	require.False(t, res.RequiresTwoFactor)
	require.NotNil(t, res.Session)
	assert.Equal(t, roles.User, res.Session.User.Role)
	require.NotNil(t, res.Session.User.LastLoginAt)

	claims, err := e.svc.Tokens.VerifyKind(res.Session.AccessToken, tokens.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, res.Session.User.ID.String(), claims.Subject)
	_, err = e.svc.Tokens.VerifyKind(res.Session.RefreshToken, tokens.KindRefresh)
	require.NoError(t, err)

	stored, err := e.repo.FindByUsername(context.Background(), "ann")
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)
	assert.True(t, e.clock.Now().Equal(*stored.LastLoginAt))
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.signup(t, "ann")
	e.signup(t, "bob")
	ctx := context.Background()

	bob, err := e.repo.FindByUsername(ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, e.repo.SetEnabled(ctx, bob.ID, false))

	_, wrongPassword := e.svc.Login(ctx, "ann", "nope")
	_, unknownUser := e.svc.Login(ctx, "nobody", "nope")
	_, disabled := e.svc.Login(ctx, "bob", "correct horse")

	assert.ErrorIs(t, wrongPassword, autherr.ErrInvalidCredentials)
	assert.ErrorIs(t, unknownUser, autherr.ErrInvalidCredentials)
	assert.ErrorIs(t, disabled, autherr.ErrAccountDisabled)

	assert.Equal(t, autherr.Public(wrongPassword), autherr.Public(unknownUser))
	assert.Equal(t, autherr.Public(wrongPassword), autherr.Public(disabled))
}

func TestRefresh_RotatesBothTokens(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	sess := e.signup(t, "ann")
	e.clock.Advance(time.Minute)

	next, err := e.svc.Refresh(context.Background(), sess.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, sess.AccessToken, next.AccessToken)
	assert.NotEqual(t, sess.RefreshToken, next.RefreshToken)
	assert.True(t, next.AccessExpiresAt.After(sess.AccessExpiresAt))
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	sess := e.signup(t, "ann")

	_, err := e.svc.Refresh(context.Background(), sess.AccessToken)
	assert.ErrorIs(t, err, autherr.ErrTokenWrongKind)
}

func TestRefresh_Expired(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	sess := e.signup(t, "ann")
	e.clock.Advance(tokens.DefaultRefreshTTL)

	_, err := e.svc.Refresh(context.Background(), sess.RefreshToken)
	assert.ErrorIs(t, err, autherr.ErrTokenExpired)
}

func TestRefresh_UsesCurrentRole(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	sess := e.signup(t, "ann")
	require.NoError(t, e.repo.UpdateRole(context.Background(), sess.User.ID, roles.Admin))

	next, err := e.svc.Refresh(context.Background(), sess.RefreshToken)
	require.NoError(t, err)
	claims, err := e.svc.Tokens.Verify(next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, roles.Admin, claims.Role)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	sess := e.signup(t, "ann")
	ctx := context.Background()

	d, err := e.svc.Validate(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, &Decision{Valid: true, UserID: sess.User.ID.String(), Username: "ann", Role: roles.User}, d)

	again, err := e.svc.Validate(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, d, again)

	_, err = e.svc.Validate(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, autherr.ErrTokenWrongKind)

	_, err = e.svc.Validate(ctx, "not-a-token")
	assert.ErrorIs(t, err, autherr.ErrTokenMalformed)

	e.clock.Advance(tokens.DefaultAccessTTL)
	_, err = e.svc.Validate(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, autherr.ErrTokenExpired)
}

func TestValidate_DisabledOrDeletedPrincipal(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	ann := e.signup(t, "ann")
	bob := e.signup(t, "bob")

	require.NoError(t, e.repo.SetEnabled(ctx, ann.User.ID, false))
	require.NoError(t, e.repo.Delete(ctx, bob.User.ID))

	_, err := e.svc.Validate(ctx, ann.AccessToken)
	assert.ErrorIs(t, err, autherr.ErrTokenInvalid)
	_, err = e.svc.Validate(ctx, bob.AccessToken)
	assert.ErrorIs(t, err, autherr.ErrTokenInvalid)
	_, err = e.svc.Refresh(ctx, bob.RefreshToken)
	assert.ErrorIs(t, err, autherr.ErrTokenInvalid)
}

func TestTwoFactor_EnrollmentAndLogin(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	sess := e.signup(t, "ann")
	uid := sess.User.ID.String()

	setup, err := e.svc.Setup2FA(ctx, uid)
	require.NoError(t, err)
	assert.Contains(t, setup.URI, "otpauth://totp/")
	assert.Contains(t, setup.URI, "secret="+setup.Secret)

	// not enforced until confirmed
	res, err := e.svc.Login(ctx, "ann", "correct horse")
	require.NoError(t, err)
	assert.False(t, res.RequiresTwoFactor)

	assert.ErrorIs(t, e.svc.Verify2FA(ctx, uid, "000000x"), autherr.ErrInvalidTwoFactorCode)

	code, err := totp.Code(setup.Secret, e.clock.Now())
	require.NoError(t, err)
	require.NoError(t, e.svc.Verify2FA(ctx, uid, code))
	assert.ErrorIs(t, e.svc.Verify2FA(ctx, uid, code), autherr.ErrTwoFactorEnabled)
	_, err = e.svc.Setup2FA(ctx, uid)
	assert.ErrorIs(t, err, autherr.ErrTwoFactorEnabled)

	res, err = e.svc.Login(ctx, "ann", "correct horse")
	require.NoError(t, err)
	require.True(t, res.RequiresTwoFactor)
	assert.Nil(t, res.Session)

	// the challenge is not a session
	_, err = e.svc.Validate(ctx, res.ChallengeToken)
	assert.ErrorIs(t, err, autherr.ErrTokenWrongKind)

	_, err = e.svc.CompleteLogin(ctx, res.ChallengeToken, "12345")
	assert.ErrorIs(t, err, autherr.ErrInvalidTwoFactorCode)

	e.clock.Advance(30 * time.Second)
	code, err = totp.Code(setup.Secret, e.clock.Now())
	require.NoError(t, err)
	full, err := e.svc.CompleteLogin(ctx, res.ChallengeToken, code)
	require.NoError(t, err)
	assert.NotEmpty(t, full.AccessToken)

	_, err = e.svc.CompleteLogin(ctx, sess.AccessToken, code)
	assert.ErrorIs(t, err, autherr.ErrTokenWrongKind)

	assert.Contains(t, e.events.types(), events.UserTwoFactorOn)
}

func TestTwoFactor_CodeCannotBeReplayed(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	sess := e.signup(t, "ann")
	uid := sess.User.ID.String()

	setup, err := e.svc.Setup2FA(ctx, uid)
	require.NoError(t, err)
	enrollCode, err := totp.Code(setup.Secret, e.clock.Now())
	require.NoError(t, err)
	require.NoError(t, e.svc.Verify2FA(ctx, uid, enrollCode))

	// the enrollment code is still inside the skew window but already spent
	first, err := e.svc.Login(ctx, "ann", "correct horse")
	require.NoError(t, err)
	_, err = e.svc.CompleteLogin(ctx, first.ChallengeToken, enrollCode)
	assert.ErrorIs(t, err, autherr.ErrInvalidTwoFactorCode)

	e.clock.Advance(30 * time.Second)
	code, err := totp.Code(setup.Secret, e.clock.Now())
	require.NoError(t, err)
	_, err = e.svc.CompleteLogin(ctx, first.ChallengeToken, code)
	require.NoError(t, err)

	// a second challenge cannot reuse the same code
	second, err := e.svc.Login(ctx, "ann", "correct horse")
	require.NoError(t, err)
	_, err = e.svc.CompleteLogin(ctx, second.ChallengeToken, code)
	assert.ErrorIs(t, err, autherr.ErrInvalidTwoFactorCode)

	e.clock.Advance(30 * time.Second)
	code, err = totp.Code(setup.Secret, e.clock.Now())
	require.NoError(t, err)
	_, err = e.svc.CompleteLogin(ctx, second.ChallengeToken, code)
	require.NoError(t, err)
}

func TestTwoFactor_VerifyWithoutSetup(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	sess := e.signup(t, "ann")
	assert.ErrorIs(t, e.svc.Verify2FA(context.Background(), sess.User.ID.String(), "123456"), autherr.ErrTwoFactorNotEnrolled)
}

func TestTwoFactor_ChallengeExpires(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	sess := e.signup(t, "ann")
	setup, err := e.svc.Setup2FA(ctx, sess.User.ID.String())
	require.NoError(t, err)
	code, _ := totp.Code(setup.Secret, e.clock.Now())
	require.NoError(t, e.svc.Verify2FA(ctx, sess.User.ID.String(), code))

	res, err := e.svc.Login(ctx, "ann", "correct horse")
	require.NoError(t, err)

	e.clock.Advance(tokens.DefaultMFATTL)
	code, _ = totp.Code(setup.Secret, e.clock.Now())
	_, err = e.svc.CompleteLogin(ctx, res.ChallengeToken, code)
	assert.ErrorIs(t, err, autherr.ErrTokenExpired)
}

func TestMe(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	sess := e.signup(t, "ann")

	u, err := e.svc.Me(context.Background(), sess.User.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "ann", u.Username)

	_, err = e.svc.Me(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, autherr.ErrTokenInvalid)
}
