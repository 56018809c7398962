package auth

import (
	"context"
	"errors"
	"net/mail"
	"time"

	"github.com/sikulab/secauth/internal/audit"
	"github.com/sikulab/secauth/internal/captcha"
	"github.com/sikulab/secauth/internal/common"
	"github.com/sikulab/secauth/internal/errcode"
	"github.com/sikulab/secauth/internal/users"
	"github.com/sikulab/secauth/model"
	"github.com/sikulab/secauth/params"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// CaptchaAnswer is the optional captcha response accompanying a login attempt.
type CaptchaAnswer struct {
	Token  string
	Answer string
}

type AuthenticatorConfig struct {
	// MaxFailCount is the consecutive-failure threshold that trips the lock.
	MaxFailCount int
	// LockDuration is how long a tripped lock holds.
	LockDuration time.Duration
	// RequireCaptcha demands a captcha answer on every login attempt.
	RequireCaptcha bool
}

func (c *AuthenticatorConfig) sanitize() {
	if c.MaxFailCount <= 0 {
		c.MaxFailCount = params.MaxLoginFailCount
	}
	if c.LockDuration <= 0 {
		c.LockDuration = params.AccountLockDuration
	}
}

// Authenticator validates credentials and drives the per-account lockout
// state machine. All counter and lock mutations go through the User row's
// optimistic version; a lost race is retried exactly once.
type Authenticator struct {
	config    AuthenticatorConfig
	userRepo  users.UserRepository
	verifier  captcha.Verifier
	recorder  *audit.Recorder
	onLockout func(user *model.User, until time.Time)
	dummyHash []byte
}

func NewAuthenticator(config AuthenticatorConfig, userRepo users.UserRepository, verifier captcha.Verifier, recorder *audit.Recorder) *Authenticator {
	config.sanitize()
	// Hash of an unguessable throwaway secret. Compared against when the
	// identifier resolves to no account, so the unknown-user path costs the
	// same as a wrong password.
	secret, err := common.GenerateSecret(32)
	if err != nil {
		panic(err)
	}
	dummyHash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	if verifier == nil {
		verifier = captcha.NullVerifier{}
	}
	return &Authenticator{
		config:    config,
		userRepo:  userRepo,
		verifier:  verifier,
		recorder:  recorder,
		dummyHash: dummyHash,
	}
}

// OnLockout registers a callback invoked after a lockout trip commits.
func (a *Authenticator) OnLockout(fn func(user *model.User, until time.Time)) {
	a.onLockout = fn
}

// VerifyCaptcha runs the captcha pre-check shared by login and registration.
// When captcha is not required an absent answer passes; any presented answer
// must verify, and a token can only be answered once.
func (a *Authenticator) VerifyCaptcha(ctx context.Context, answer CaptchaAnswer) error {
	if !a.config.RequireCaptcha && answer.Token == "" {
		return nil
	}
	if err := a.verifier.Verify(ctx, answer.Token, answer.Answer); err != nil {
		return errcode.ErrCaptchaInvalid
	}
	return nil
}

// Authenticate runs the login state machine for one attempt. Unknown
// identifiers and wrong passwords return the same error with the same timing
// profile; locked accounts fail fast without touching the counter.
func (a *Authenticator) Authenticate(ctx context.Context, identifier string, password string, answer CaptchaAnswer, client audit.Client) (*model.User, error) {
	if err := a.VerifyCaptcha(ctx, answer); err != nil {
		a.recorder.RecordLogin(audit.LoginRecord{
			Actor:  audit.Actor{Username: identifier},
			Client: client,
			Reason: "captcha verification failed",
		})
		return nil, err
	}

	user, err := a.lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, errcode.ErrUserNotFound) {
			bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
			a.recorder.RecordLogin(audit.LoginRecord{
				Actor:  audit.Actor{Username: identifier},
				Client: client,
				Reason: "unknown identifier",
			})
			return nil, errcode.ErrInvalidCredentials
		}
		return nil, err
	}
	actor := audit.Actor{UserID: user.ID, Username: user.Username}

	if !user.IsEnabled() {
		a.recorder.RecordLogin(audit.LoginRecord{
			Actor:  actor,
			Client: client,
			Reason: "account disabled",
		})
		return nil, errcode.ErrAccountDisabled
	}

	now := time.Now()
	if user.IsLocked(now) {
		a.recorder.RecordLogin(audit.LoginRecord{
			Actor:  actor,
			Client: client,
			Locked: true,
			Reason: "account locked",
		})
		return nil, errcode.ErrAccountLocked
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) == nil {
		if err := a.commitSuccess(ctx, user, now, client.IP); err != nil {
			return nil, err
		}
		a.recorder.RecordLogin(audit.LoginRecord{
			Actor:   actor,
			Client:  client,
			Success: true,
		})
		return user, nil
	}

	tripped, until, err := a.commitFailure(ctx, user, now)
	if err != nil {
		return nil, err
	}
	a.recorder.RecordLogin(audit.LoginRecord{
		Actor:          actor,
		Client:         client,
		LockoutTripped: tripped,
		Reason:         "wrong password",
	})
	if tripped && a.onLockout != nil {
		a.onLockout(user, until)
	}
	return nil, errcode.ErrInvalidCredentials
}

func (a *Authenticator) lookup(ctx context.Context, identifier string) (*model.User, error) {
	var (
		user *model.User
		err  error
	)
	if _, mailErr := mail.ParseAddress(identifier); mailErr == nil {
		user, err = a.userRepo.GetByEmail(ctx, identifier)
	} else {
		user, err = a.userRepo.GetByUsername(ctx, identifier)
	}
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, errcode.ErrUserNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return nil, errcode.ErrConnectionTimeout
	default:
		return nil, errcode.ErrDatabase
	}
}

// commitSuccess resets the fail counter, clears any stale lock and stamps the
// login metadata.
func (a *Authenticator) commitSuccess(ctx context.Context, user *model.User, now time.Time, clientIP string) error {
	return a.updateVersioned(ctx, user, func(u *model.User) map[string]interface{} {
		return map[string]interface{}{
			"login_fail_count": 0,
			"locked_until":     nil,
			"last_login_at":    now,
			"last_login_ip":    clientIP,
		}
	})
}

// commitFailure bumps the fail counter and trips the lock at the threshold.
// The counter is never reset here; an expired lock only resets on the next
// successful login.
func (a *Authenticator) commitFailure(ctx context.Context, user *model.User, now time.Time) (bool, time.Time, error) {
	var (
		tripped bool
		until   time.Time
	)
	err := a.updateVersioned(ctx, user, func(u *model.User) map[string]interface{} {
		newCount := u.LoginFailCount + 1
		columns := map[string]interface{}{
			"login_fail_count": newCount,
		}
		tripped = newCount >= a.config.MaxFailCount
		if tripped {
			until = now.Add(a.config.LockDuration)
			columns["locked_until"] = until
		}
		return columns
	})
	return tripped, until, err
}

// updateVersioned applies a compare-and-swap update built from the current
// row state, re-reading and retrying once on version conflict before
// surfacing the failure. The bound is deliberate; unbounded retry risks
// livelock under sustained contention.
func (a *Authenticator) updateVersioned(ctx context.Context, user *model.User, build func(*model.User) map[string]interface{}) error {
	for attempt := 0; ; attempt++ {
		rows, err := a.userRepo.UpdateVersioned(ctx, user.ID, user.Version, build(user))
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return errcode.ErrConnectionTimeout
			}
			return errcode.ErrDatabase
		}
		if rows > 0 {
			user.Version++
			return nil
		}
		if attempt >= params.VersionedRetryMax {
			return errcode.ErrOperationFailed
		}
		fresh, err := a.userRepo.GetByID(ctx, user.ID)
		if err != nil {
			return errcode.ErrDatabase
		}
		*user = *fresh
	}
}
