package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sikulab/secauth/internal/audit"
	"github.com/sikulab/secauth/internal/errcode"
	"github.com/sikulab/secauth/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// fakeUserRepo keeps users in memory and enforces the same versioned update
// contract as the database: an update only lands when the caller holds the
// current version.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uint64]*model.User
}

func newFakeUserRepo(users ...*model.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[uint64]*model.User)}
	for _, user := range users {
		repo.users[user.ID] = user
	}
	return repo
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
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

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
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

func (r *fakeUserRepo) Create(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == 0 {
		user.ID = uint64(len(r.users) + 1)
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *fakeUserRepo) Updates(ctx context.Context, id uint64, columns map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	applyColumns(user, columns)
	return nil
}

func (r *fakeUserRepo) UpdateVersioned(ctx context.Context, id uint64, version uint64, columns map[string]interface{}) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok || user.Version != version {
		return 0, nil
	}
	applyColumns(user, columns)
	user.Version++
	return 1, nil
}

func applyColumns(user *model.User, columns map[string]interface{}) {
	for col, val := range columns {
		switch col {
		case "login_fail_count":
			user.LoginFailCount = val.(int)
		case "locked_until":
			if val == nil {
				user.LockedUntil = nil
			} else {
				ts := val.(time.Time)
				user.LockedUntil = &ts
			}
		case "last_login_at":
			ts := val.(time.Time)
			user.LastLoginAt = &ts
		case "last_login_ip":
			user.LastLoginIP = val.(string)
		case "status":
			user.Status = val.(int)
		case "password":
			user.Password = val.(string)
		}
	}
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newTestUser(t *testing.T, id uint64, username, password string) *model.User {
	t.Helper()
	return &model.User{
		ID:       id,
		Username: username,
		Password: mustHash(t, password),
		Email:    username + "@example.com",
		Status:   model.UserStatusEnabled,
		Roles:    model.NewRoleSet(model.RoleDefault),
	}
}

type nullRepo struct{}

func (nullRepo) RecordEvent(ctx context.Context, event *model.AuditEvent) error { return nil }
func (nullRepo) QueryEvents(ctx context.Context, filter audit.QueryFilter) ([]*model.AuditEvent, int64, error) {
	return nil, 0, nil
}
func (nullRepo) GetStatistics(ctx context.Context, since time.Time) (*audit.Statistics, error) {
	return &audit.Statistics{}, nil
}

func newTestRecorder(t *testing.T) *audit.Recorder {
	t.Helper()
	recorder := audit.NewRecorder(nullRepo{}, 1, 64)
	t.Cleanup(recorder.Close)
	return recorder
}

func newTestAuthenticator(t *testing.T, repo *fakeUserRepo, config AuthenticatorConfig) *Authenticator {
	t.Helper()
	return NewAuthenticator(config, repo, nil, newTestRecorder(t))
}

func TestAuthenticateSuccess(t *testing.T) {
	repo := newFakeUserRepo(newTestUser(t, 1, "alice", "Str0ngPass"))
	a := newTestAuthenticator(t, repo, AuthenticatorConfig{})

	user, err := a.Authenticate(context.Background(), "alice", "Str0ngPass", CaptchaAnswer{}, audit.Client{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), user.ID)

	stored, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, stored.LoginFailCount)
	require.NotNil(t, stored.LastLoginAt)
	assert.Equal(t, "10.0.0.1", stored.LastLoginIP)
}

func TestAuthenticateByEmail(t *testing.T) {
	repo := newFakeUserRepo(newTestUser(t, 1, "alice", "Str0ngPass"))
	a := newTestAuthenticator(t, repo, AuthenticatorConfig{})

	user, err := a.Authenticate(context.Background(), "alice@example.com", "Str0ngPass", CaptchaAnswer{}, audit.Client{})
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
}

// Unknown identifier and wrong password surface the identical error.
func TestAuthenticateNoEnumeration(t *testing.T) {
	repo := newFakeUserRepo(newTestUser(t, 1, "alice", "Str0ngPass"))
	a := newTestAuthenticator(t, repo, AuthenticatorConfig{})

	_, errUnknown := a.Authenticate(context.Background(), "nobody", "whatever", CaptchaAnswer{}, audit.Client{})
	_, errWrong := a.Authenticate(context.Background(), "alice", "wrong", CaptchaAnswer{}, audit.Client{})

	assert.ErrorIs(t, errUnknown, errcode.ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, errcode.ErrInvalidCredentials)
}

func TestAuthenticateDisabledAccount(t *testing.T) {
	user := newTestUser(t, 1, "alice", "Str0ngPass")
	user.Status = model.UserStatusDisabled
	a := newTestAuthenticator(t, newFakeUserRepo(user), AuthenticatorConfig{})

	_, err := a.Authenticate(context.Background(), "alice", "Str0ngPass", CaptchaAnswer{}, audit.Client{})
	assert.ErrorIs(t, err, errcode.ErrAccountDisabled)
}

func TestAuthenticateLockoutTrips(t *testing.T) {
	repo := newFakeUserRepo(newTestUser(t, 1, "alice", "Str0ngPass"))
	a := newTestAuthenticator(t, repo, AuthenticatorConfig{MaxFailCount: 3, LockDuration: time.Hour})

	var lockedUser *model.User
	a.OnLockout(func(user *model.User, until time.Time) {
		lockedUser = user
	})

	for i := 0; i < 3; i++ {
		_, err := a.Authenticate(context.Background(), "alice", "wrong", CaptchaAnswer{}, audit.Client{})
		assert.ErrorIs(t, err, errcode.ErrInvalidCredentials)
	}
	require.NotNil(t, lockedUser)
	assert.Equal(t, "alice", lockedUser.Username)

	// Correct password is rejected while the lock holds.
	_, err := a.Authenticate(context.Background(), "alice", "Str0ngPass", CaptchaAnswer{}, audit.Client{})
	assert.ErrorIs(t, err, errcode.ErrAccountLocked)

	stored, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.LoginFailCount)
	require.NotNil(t, stored.LockedUntil)
}

// A locked-account attempt must not extend the lock or bump the counter.
func TestAuthenticateLockedAttemptDoesNotExtend(t *testing.T) {
	user := newTestUser(t, 1, "alice", "Str0ngPass")
	until := time.Now().Add(time.Hour)
	user.LoginFailCount = 5
	user.LockedUntil = &until
	repo := newFakeUserRepo(user)
	a := newTestAuthenticator(t, repo, AuthenticatorConfig{})

	_, err := a.Authenticate(context.Background(), "alice", "wrong", CaptchaAnswer{}, audit.Client{})
	assert.ErrorIs(t, err, errcode.ErrAccountLocked)

	stored, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.LoginFailCount)
	assert.True(t, stored.LockedUntil.Equal(until))
}

func TestAuthenticateLockExpiry(t *testing.T) {
	user := newTestUser(t, 1, "alice", "Str0ngPass")
	expired := time.Now().Add(-time.Minute)
	user.LoginFailCount = 5
	user.LockedUntil = &expired
	repo := newFakeUserRepo(user)
	a := newTestAuthenticator(t, repo, AuthenticatorConfig{MaxFailCount: 5, LockDuration: time.Hour})

	// The lock has lapsed; a successful login resets counter and lock.
	_, err := a.Authenticate(context.Background(), "alice", "Str0ngPass", CaptchaAnswer{}, audit.Client{})
	require.NoError(t, err)

	stored, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, stored.LoginFailCount)
	assert.Nil(t, stored.LockedUntil)
}

// The counter survives lock expiry, so the next failure after a lapsed lock
// re-trips immediately.
func TestAuthenticateExpiredLockRetrips(t *testing.T) {
	user := newTestUser(t, 1, "alice", "Str0ngPass")
	expired := time.Now().Add(-time.Minute)
	user.LoginFailCount = 5
	user.LockedUntil = &expired
	repo := newFakeUserRepo(user)
	a := newTestAuthenticator(t, repo, AuthenticatorConfig{MaxFailCount: 5, LockDuration: time.Hour})

	_, err := a.Authenticate(context.Background(), "alice", "wrong", CaptchaAnswer{}, audit.Client{})
	assert.ErrorIs(t, err, errcode.ErrInvalidCredentials)

	stored, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 6, stored.LoginFailCount)
	require.NotNil(t, stored.LockedUntil)
	assert.True(t, stored.LockedUntil.After(time.Now()))
}

func TestAuthenticateCaptchaRequired(t *testing.T) {
	repo := newFakeUserRepo(newTestUser(t, 1, "alice", "Str0ngPass"))
	a := NewAuthenticator(AuthenticatorConfig{RequireCaptcha: true}, repo, rejectingVerifier{}, newTestRecorder(t))

	_, err := a.Authenticate(context.Background(), "alice", "Str0ngPass", CaptchaAnswer{Token: "tok", Answer: "bad"}, audit.Client{})
	assert.ErrorIs(t, err, errcode.ErrCaptchaInvalid)

	// Captcha failures never touch the fail counter.
	stored, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, stored.LoginFailCount)
}

type rejectingVerifier struct{}

func (rejectingVerifier) Verify(ctx context.Context, token string, answer string) error {
	return errcode.ErrCaptchaInvalid
}

// Concurrent failures must never undercount: with the versioned update every
// failed attempt lands exactly once.
func TestAuthenticateConcurrentFailures(t *testing.T) {
	repo := newFakeUserRepo(newTestUser(t, 1, "alice", "Str0ngPass"))
	a := newTestAuthenticator(t, repo, AuthenticatorConfig{MaxFailCount: 100, LockDuration: time.Hour})

	const attempts = 8
	var wg sync.WaitGroup
	failures := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, failures[i] = a.Authenticate(context.Background(), "alice", "wrong", CaptchaAnswer{}, audit.Client{})
		}(i)
	}
	wg.Wait()

	counted := 0
	for _, err := range failures {
		require.Error(t, err)
		// A lost CAS race past the retry bound surfaces as operation failed;
		// those attempts did not land.
		if errors.Is(err, errcode.ErrInvalidCredentials) {
			counted++
		}
	}
	stored, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, counted, stored.LoginFailCount)
}
