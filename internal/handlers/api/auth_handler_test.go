package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sikulab/secauth/internal/audit"
	"github.com/sikulab/secauth/internal/auth"
	"github.com/sikulab/secauth/internal/captcha"
	"github.com/sikulab/secauth/internal/errcode"
	"github.com/sikulab/secauth/internal/middlewares"
	"github.com/sikulab/secauth/internal/store"
	"github.com/sikulab/secauth/internal/users"
	"github.com/sikulab/secauth/model"
	"github.com/sikulab/secauth/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type stubUserRepo struct {
	mu    sync.Mutex
	users map[uint64]*model.User
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{users: make(map[uint64]*model.User)}
}

func (r *stubUserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *stubUserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Username == username {
			clone := *user
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubUserRepo) Create(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.ID = uint64(len(r.users) + 1)
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *stubUserRepo) Updates(ctx context.Context, id uint64, columns map[string]interface{}) error {
	return nil
}

func (r *stubUserRepo) UpdateVersioned(ctx context.Context, id uint64, version uint64, columns map[string]interface{}) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok || user.Version != version {
		return 0, nil
	}
	if count, ok := columns["login_fail_count"].(int); ok {
		user.LoginFailCount = count
	}
	if until, ok := columns["locked_until"]; ok {
		if until == nil {
			user.LockedUntil = nil
		} else {
			ts := until.(time.Time)
			user.LockedUntil = &ts
		}
	}
	if at, ok := columns["last_login_at"].(time.Time); ok {
		user.LastLoginAt = &at
	}
	if ip, ok := columns["last_login_ip"].(string); ok {
		user.LastLoginIP = ip
	}
	user.Version++
	return 1, nil
}

type nullEventRepo struct{}

func (nullEventRepo) RecordEvent(ctx context.Context, event *model.AuditEvent) error { return nil }
func (nullEventRepo) QueryEvents(ctx context.Context, filter audit.QueryFilter) ([]*model.AuditEvent, int64, error) {
	return []*model.AuditEvent{}, 0, nil
}
func (nullEventRepo) GetStatistics(ctx context.Context, since time.Time) (*audit.Statistics, error) {
	return &audit.Statistics{TotalEvents: 11, LoginEvents: 7}, nil
}

type testApp struct {
	app        *fiber.App
	repo       *stubUserRepo
	captchaSvc *captcha.Service
	emailCodes store.Store[string]
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	repo := newStubUserRepo()
	recorder := audit.NewRecorder(nullEventRepo{}, 1, 64)
	t.Cleanup(recorder.Close)

	storage := store.NewMemoryStorage()
	emailCodes := store.New[string](storage, params.EmailCodeKeyPrefix)
	userService := users.NewUserService(repo, emailCodes, nil, 4)
	captchaService := captcha.NewService(store.New[string](storage, params.CaptchaKeyPrefix))
	authenticator := auth.NewAuthenticator(auth.AuthenticatorConfig{}, repo, captchaService, recorder)
	tokenService := auth.NewTokenService(auth.TokenConfig{
		Secret:   []byte("0123456789abcdef0123456789abcdef"),
		Issuer:   "secauth-test",
		Audience: "secauth-client",
	},
		store.New[auth.SessionRecord](storage, params.SessionKeyPrefix),
		store.New[auth.RefreshRecord](storage, params.RefreshKeyPrefix),
		repo, recorder)

	authHandler := NewAuthHandler(authenticator, tokenService, userService, captchaService, recorder)
	auditHandler := NewAuditHandler(nullEventRepo{})

	app := fiber.New(fiber.Config{ErrorHandler: middlewares.ErrorHandler})
	app.Use(middlewares.WithTraceID())
	app.Post("/api/v1/auth/login", authHandler.PostLogin)
	app.Post("/api/v1/auth/refresh", authHandler.PostRefresh)
	app.Post("/api/v1/auth/register", authHandler.PostRegister)
	app.Get("/api/v1/auth/captcha", authHandler.GetCaptcha)
	authed := app.Group("", middlewares.Authenticate(tokenService))
	authed.Post("/api/v1/auth/logout", authHandler.PostLogout)
	authed.Get("/api/v1/auth/profile", authHandler.GetProfile)
	admin := authed.Group("/api/v1/admin", middlewares.RequireRole(model.RoleAdmin))
	admin.Get("/audit/statistics", auditHandler.GetStatistics)

	return &testApp{app: app, repo: repo, captchaSvc: captchaService, emailCodes: emailCodes}
}

func (ta *testApp) seedUser(t *testing.T, roles ...string) *model.User {
	t.Helper()
	if len(roles) == 0 {
		roles = []string{model.RoleDefault}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("Str0ngPass"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &model.User{
		Username: "alice",
		Password: string(hash),
		Email:    "alice@example.com",
		Status:   model.UserStatusEnabled,
		Roles:    model.NewRoleSet(roles...),
	}
	require.NoError(t, ta.repo.Create(context.Background(), user))
	return user
}

func doJSON(t *testing.T, app *fiber.App, method, target, token string, body any) (*http.Response, APIResponse) {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reqBody)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var envelope APIResponse
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &envelope))
	return resp, envelope
}

func TestLoginEndToEnd(t *testing.T) {
	ta := newTestApp(t)
	ta.seedUser(t)

	resp, envelope := doJSON(t, ta.app, fiber.MethodPost, "/api/v1/auth/login", "", fiber.Map{
		"username": "alice",
		"password": "Str0ngPass",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, errcode.CodeSuccess, envelope.Code)
	assert.NotEmpty(t, envelope.TraceID)
	assert.Equal(t, envelope.TraceID, resp.Header.Get(middlewares.HeaderTraceID))

	data, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var login loginResponse
	require.NoError(t, json.Unmarshal(data, &login))
	assert.Equal(t, "alice", login.User.Username)
	require.NotNil(t, login.Token)
	assert.Equal(t, "Bearer", login.Token.TokenType)

	// The issued access token opens authenticated routes.
	resp, envelope = doJSON(t, ta.app, fiber.MethodGet, "/api/v1/auth/profile", login.Token.AccessToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, errcode.CodeSuccess, envelope.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	ta := newTestApp(t)
	ta.seedUser(t)

	resp, envelope := doJSON(t, ta.app, fiber.MethodPost, "/api/v1/auth/login", "", fiber.Map{
		"username": "alice",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, errcode.ErrInvalidCredentials.Code, envelope.Code)
	assert.Nil(t, envelope.Data)
}

func TestLoginLockoutStatus(t *testing.T) {
	ta := newTestApp(t)
	ta.seedUser(t)

	for i := 0; i < params.MaxLoginFailCount; i++ {
		doJSON(t, ta.app, fiber.MethodPost, "/api/v1/auth/login", "", fiber.Map{
			"username": "alice",
			"password": "wrong",
		})
	}
	resp, envelope := doJSON(t, ta.app, fiber.MethodPost, "/api/v1/auth/login", "", fiber.Map{
		"username": "alice",
		"password": "Str0ngPass",
	})
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	assert.Equal(t, errcode.ErrAccountLocked.Code, envelope.Code)
}

func TestRefreshEndpoint(t *testing.T) {
	ta := newTestApp(t)
	ta.seedUser(t)

	_, envelope := doJSON(t, ta.app, fiber.MethodPost, "/api/v1/auth/login", "", fiber.Map{
		"username": "alice",
		"password": "Str0ngPass",
	})
	data, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var login loginResponse
	require.NoError(t, json.Unmarshal(data, &login))

	resp, rotated := doJSON(t, ta.app, fiber.MethodPost, "/api/v1/auth/refresh", "", fiber.Map{
		"refreshToken": login.Token.RefreshToken,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, errcode.CodeSuccess, rotated.Code)

	// Replaying the consumed token is rejected with 401.
	resp, replay := doJSON(t, ta.app, fiber.MethodPost, "/api/v1/auth/refresh", "", fiber.Map{
		"refreshToken": login.Token.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, errcode.ErrRefreshTokenInvalid.Code, replay.Code)
}

func TestProtectedRouteWithoutToken(t *testing.T) {
	ta := newTestApp(t)

	resp, envelope := doJSON(t, ta.app, fiber.MethodGet, "/api/v1/auth/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, errcode.ErrTokenMissing.Code, envelope.Code)
}

func TestAdminRouteRequiresRole(t *testing.T) {
	ta := newTestApp(t)
	ta.seedUser(t)

	_, envelope := doJSON(t, ta.app, fiber.MethodPost, "/api/v1/auth/login", "", fiber.Map{
		"username": "alice",
		"password": "Str0ngPass",
	})
	data, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var login loginResponse
	require.NoError(t, json.Unmarshal(data, &login))

	resp, denied := doJSON(t, ta.app, fiber.MethodGet, "/api/v1/admin/audit/statistics", login.Token.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, errcode.ErrPermissionDenied.Code, denied.Code)
}

func TestAdminRouteWithRole(t *testing.T) {
	ta := newTestApp(t)
	ta.seedUser(t, model.RoleDefault, model.RoleAdmin)

	_, envelope := doJSON(t, ta.app, fiber.MethodPost, "/api/v1/auth/login", "", fiber.Map{
		"username": "alice",
		"password": "Str0ngPass",
	})
	data, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var login loginResponse
	require.NoError(t, json.Unmarshal(data, &login))

	resp, stats := doJSON(t, ta.app, fiber.MethodGet, "/api/v1/admin/audit/statistics", login.Token.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, errcode.CodeSuccess, stats.Code)
}

func TestRegisterEndToEnd(t *testing.T) {
	ta := newTestApp(t)
	ctx := context.Background()

	challenge, err := ta.captchaSvc.Issue(ctx)
	require.NoError(t, err)
	require.NoError(t, ta.emailCodes.Set(ctx, "bob@example.com", "654321", time.Minute))

	resp, envelope := doJSON(t, ta.app, fiber.MethodPost, "/api/v1/auth/register", "", fiber.Map{
		"username":        "bob",
		"password":        "Str0ngPass1",
		"confirmPassword": "Str0ngPass1",
		"email":           "bob@example.com",
		"emailCode":       "654321",
		"captchaToken":    challenge.Token,
		"captchaAnswer":   challenge.Code,
		"agreeTerms":      true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, errcode.CodeSuccess, envelope.Code)

	data, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var created loginResponse
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, "bob", created.User.Username)
	require.NotNil(t, created.Token)
	assert.NotEmpty(t, created.Token.AccessToken)
}

// A registration carrying a captcha answer must prove it; a garbage token is
// rejected before any account is created.
func TestRegisterCaptchaRejected(t *testing.T) {
	ta := newTestApp(t)
	require.NoError(t, ta.emailCodes.Set(context.Background(), "bob@example.com", "654321", time.Minute))

	resp, envelope := doJSON(t, ta.app, fiber.MethodPost, "/api/v1/auth/register", "", fiber.Map{
		"username":        "bob",
		"password":        "Str0ngPass1",
		"confirmPassword": "Str0ngPass1",
		"email":           "bob@example.com",
		"emailCode":       "654321",
		"captchaToken":    "no-such-token",
		"captchaAnswer":   "totally-wrong",
		"agreeTerms":      true,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, errcode.ErrCaptchaInvalid.Code, envelope.Code)

	_, err := ta.repo.GetByUsername(context.Background(), "bob")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// The email code survives the rejected attempt, so the client can retry
	// with a fresh captcha.
	code, err := ta.emailCodes.Get(context.Background(), "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "654321", code)
}

func TestCaptchaEndpoint(t *testing.T) {
	ta := newTestApp(t)

	resp, envelope := doJSON(t, ta.app, fiber.MethodGet, "/api/v1/auth/captcha", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var challenge captchaResponse
	require.NoError(t, json.Unmarshal(data, &challenge))
	assert.NotEmpty(t, challenge.CaptchaToken)
	assert.Equal(t, int64(params.CaptchaExpiration.Seconds()), challenge.ExpiresIn)
}

func TestUnknownRoute(t *testing.T) {
	ta := newTestApp(t)

	resp, envelope := doJSON(t, ta.app, fiber.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, errcode.ErrResourceNotFound.Code, envelope.Code)
}
