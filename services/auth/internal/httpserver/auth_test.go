package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/tunehub/pkg/roles"
	"github.com/Skotchmaster/tunehub/pkg/tokens"
	"github.com/Skotchmaster/tunehub/pkg/totp"
	"github.com/Skotchmaster/tunehub/services/auth/internal/events"
	"github.com/Skotchmaster/tunehub/services/auth/internal/repo"
	"github.com/Skotchmaster/tunehub/services/auth/internal/service"
	"github.com/Skotchmaster/tunehub/services/auth/internal/testdb"
)

type server struct {
	e   *echo.Echo
	svc *service.AuthService
}

func newServer(t *testing.T) *server {
	t.Helper()

	codec, err := tokens.NewCodec([]byte("test-jwt-secret"))
	require.NoError(t, err)
	r := repo.New(testdb.Open(t))
	svc := &service.AuthService{Repo: r, Tokens: codec, Events: events.Nop{}, TOTPIssuer: "TuneHub"}

	e := echo.New()
	Register(e, &Deps{
		AuthHandler:  &AuthHTTP{Svc: svc},
		AdminHandler: &AdminHTTP{Svc: svc},
		DB:           r,
	})
	return &server{e: e, svc: svc}
}

func (s *server) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

type session struct {
	AccessToken    string `json:"accessToken"`
	RefreshToken   string `json:"refreshToken"`
	Requires2FA    bool   `json:"requires2FA"`
	ChallengeToken string `json:"challengeToken"`
	User           struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Role     string `json:"role"`
	} `json:"user"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *server) signup(t *testing.T, name string) session {
	t.Helper()
	rec := s.do(http.MethodPost, "/auth/signup", "",
		`{"username":"`+name+`","email":"`+name+`@example.com","password":"correct horse"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[session](t, rec)
}

func TestSignupHandler(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	sess := s.signup(t, "ann")
	assert.NotEmpty(t, sess.AccessToken)
	assert.NotEmpty(t, sess.RefreshToken)
	assert.Equal(t, "ann", sess.User.Username)
	assert.Equal(t, roles.User, sess.User.Role)

	rec := s.do(http.MethodPost, "/auth/signup", "", `{"username":"ann","email":"x@example.com","password":"correct horse"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/auth/signup", "", `{"username":"bo","email":"not-an-email","password":"short"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"validation_failed","message":"request is invalid"}`, rec.Body.String())
}

func TestLoginHandler(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	s.signup(t, "ann")

	rec := s.do(http.MethodPost, "/auth/login", "", `{"username":"ann","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decode[session](t, rec)
	assert.NotEmpty(t, sess.AccessToken)
	assert.NotEmpty(t, sess.RefreshToken)
	assert.Equal(t, roles.User, sess.User.Role)
	assert.False(t, sess.Requires2FA)
}

func TestLoginHandler_IdenticalFailureBodies(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	s.signup(t, "ann")
	s.signup(t, "bob")
	bob, err := s.svc.Repo.FindByUsername(context.Background(), "bob")
	require.NoError(t, err)
	require.NoError(t, s.svc.Repo.SetEnabled(context.Background(), bob.ID, false))

	wrongPassword := s.do(http.MethodPost, "/auth/login", "", `{"username":"ann","password":"wrong"}`)
	unknownUser := s.do(http.MethodPost, "/auth/login", "", `{"username":"nobody","password":"wrong"}`)
	disabled := s.do(http.MethodPost, "/auth/login", "", `{"username":"bob","password":"correct horse"}`)

	for _, rec := range []*httptest.ResponseRecorder{wrongPassword, unknownUser, disabled} {
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	assert.Equal(t, wrongPassword.Body.String(), unknownUser.Body.String())
	assert.Equal(t, wrongPassword.Body.String(), disabled.Body.String())
	assert.JSONEq(t, `{"error":"invalid_credentials","message":"invalid username or password"}`, wrongPassword.Body.String())
}

func TestRefreshHandler(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	sess := s.signup(t, "ann")

	rec := s.do(http.MethodPost, "/auth/refresh", "", `{"refreshToken":"`+sess.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	next := decode[session](t, rec)
	assert.NotEmpty(t, next.AccessToken)
	assert.NotEqual(t, sess.RefreshToken, next.RefreshToken)

	rec = s.do(http.MethodPost, "/auth/refresh", "", `{"refreshToken":"`+sess.AccessToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token_wrong_kind")
}

func TestValidateHandler(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	sess := s.signup(t, "ann")

	rec := s.do(http.MethodPost, "/auth/validate", sess.AccessToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":true,"userId":"`+sess.User.ID+`","username":"ann","role":"USER"}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/auth/validate", sess.RefreshToken, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token_wrong_kind")

	rec = s.do(http.MethodPost, "/auth/validate", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_token")

	rec = s.do(http.MethodPost, "/auth/validate", "abc.def", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token_malformed")
}

func TestTwoFactorHandlers(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	sess := s.signup(t, "ann")

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/auth/2fa/setup", "", "").Code)

	rec := s.do(http.MethodPost, "/auth/2fa/setup", sess.AccessToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	setup := decode[service.TwoFactorSetup](t, rec)
	assert.True(t, strings.HasPrefix(setup.URI, "otpauth://totp/TuneHub:ann?"))

	code, err := totp.Code(setup.Secret, time.Now())
	require.NoError(t, err)
	rec = s.do(http.MethodPost, "/auth/2fa/verify", sess.AccessToken, `{"code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/auth/login", "", `{"username":"ann","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	challenge := decode[session](t, rec)
	require.True(t, challenge.Requires2FA)
	assert.Empty(t, challenge.AccessToken)
	require.NotEmpty(t, challenge.ChallengeToken)

	// the enrollment code's step is burnt; the next step is inside the skew
	code, err = totp.Code(setup.Secret, time.Now().Add(totp.Period*time.Second))
	require.NoError(t, err)
	rec = s.do(http.MethodPost, "/auth/login/2fa", "", `{"challengeToken":"`+challenge.ChallengeToken+`","code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode[session](t, rec).AccessToken)
}

func TestMeHandler(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	sess := s.signup(t, "ann")

	rec := s.do(http.MethodGet, "/auth/me", sess.AccessToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "passwordHash")
	assert.NotContains(t, rec.Body.String(), "PasswordHash")
	assert.Contains(t, rec.Body.String(), `"username":"ann"`)
}

func TestAdminHandlers(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	_, err := s.svc.CreateAdmin(context.Background(), "root", "root@example.com", "correct horse")
	require.NoError(t, err)
	rec := s.do(http.MethodPost, "/auth/login", "", `{"username":"root","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	admin := decode[session](t, rec)
	ann := s.signup(t, "ann")

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/admin/users", ann.AccessToken, "").Code)

	rec = s.do(http.MethodGet, "/admin/users?page=1&size=10", admin.AccessToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[service.UserPage](t, rec)
	assert.EqualValues(t, 2, page.Total)

	rec = s.do(http.MethodPatch, "/admin/users/"+ann.User.ID+"/role", admin.AccessToken, `{"role":"SUPERUSER"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodPatch, "/admin/users/"+ann.User.ID+"/role", admin.AccessToken, `{"role":"ADMIN"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPatch, "/admin/users/"+ann.User.ID+"/status", admin.AccessToken, `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/auth/validate", ann.AccessToken, "").Code)

	rec = s.do(http.MethodDelete, "/admin/users/"+ann.User.ID, admin.AccessToken, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodDelete, "/admin/users/"+ann.User.ID, admin.AccessToken, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthHandlers(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health/live", "", "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health/ready", "", "").Code)
}
