package users

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/sikulab/secauth/internal/common"
	"github.com/sikulab/secauth/internal/errcode"
	mailpkg "github.com/sikulab/secauth/internal/mail"
	"github.com/sikulab/secauth/internal/store"
	"github.com/sikulab/secauth/model"
	"github.com/sikulab/secauth/params"
	"golang.org/x/crypto/bcrypt"
)

type RegisterInput struct {
	Username        string
	Password        string
	ConfirmPassword string
	Email           string
	EmailCode       string
	CaptchaToken    string
	CaptchaAnswer   string
	Nickname        string
	AgreeTerms      bool
}

type UserService struct {
	userRepo   UserRepository
	emailCodes store.Store[string]
	mailSender mailpkg.MailSender
	bcryptCost int
}

func NewUserService(userRepo UserRepository, emailCodes store.Store[string], mailSender mailpkg.MailSender, bcryptCost int) *UserService {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &UserService{
		userRepo:   userRepo,
		emailCodes: emailCodes,
		mailSender: mailSender,
		bcryptCost: bcryptCost,
	}
}

func (s *UserService) GetUserByID(ctx context.Context, userID uint64) (*model.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, mapStorageError(err)
	}
	return user, nil
}

// GetUserByUsernameOrEmail resolves a login identifier. Identifiers that parse
// as an email address are looked up by email, everything else by username.
func (s *UserService) GetUserByUsernameOrEmail(ctx context.Context, identifier string) (*model.User, error) {
	var (
		user *model.User
		err  error
	)
	if _, mailErr := mail.ParseAddress(identifier); mailErr == nil {
		user, err = s.userRepo.GetByEmail(ctx, identifier)
	} else {
		user, err = s.userRepo.GetByUsername(ctx, identifier)
	}
	if err != nil {
		return nil, mapStorageError(err)
	}
	return user, nil
}

func (s *UserService) validateRegistration(input RegisterInput) *errcode.Error {
	if !input.AgreeTerms {
		return errcode.ErrValidationFailed.WithMessage("terms of service must be accepted")
	}
	if err := validateUsername(input.Username); err != nil {
		return err
	}
	if err := validateEmail(input.Email); err != nil {
		return err
	}
	if err := validatePassword(input.Password); err != nil {
		return err
	}
	if input.Password != input.ConfirmPassword {
		return errcode.ErrValidationFailed.WithMessage("passwords do not match")
	}
	return nil
}

// Register creates an account. Uniqueness is enforced by the database; a
// duplicate-key failure is attributed to the colliding field rather than
// pre-checked, so concurrent registrations cannot race past the check.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*model.User, error) {
	if err := s.validateRegistration(input); err != nil {
		return nil, err
	}
	if err := s.VerifyEmailCode(ctx, input.Email, input.EmailCode); err != nil {
		return nil, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.bcryptCost)
	if err != nil {
		return nil, errcode.ErrUserRegistration
	}

	user := model.User{
		Username: input.Username,
		Password: string(passwordHash),
		Email:    input.Email,
		Nickname: input.Nickname,
		Status:   model.UserStatusEnabled,
		Roles:    model.NewRoleSet(model.RoleDefault),
	}
	if err := s.userRepo.Create(ctx, &user); err != nil {
		return nil, mapDuplicateError(err)
	}
	return &user, nil
}

// VerifyPassword checks a plaintext secret against the stored verifier.
func (s *UserService) VerifyPassword(user *model.User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) == nil
}

func (s *UserService) ChangePassword(ctx context.Context, userID uint64, oldPassword, newPassword, confirmPassword string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return mapStorageError(err)
	}
	if !s.VerifyPassword(user, oldPassword) {
		return errcode.ErrOldPasswordIncorrect
	}
	if verr := validatePassword(newPassword); verr != nil {
		return verr
	}
	if newPassword != confirmPassword {
		return errcode.ErrValidationFailed.WithMessage("passwords do not match")
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return errcode.ErrUserUpdate
	}
	if err := s.userRepo.Updates(ctx, userID, map[string]interface{}{"password": string(passwordHash)}); err != nil {
		return mapStorageError(err)
	}
	return nil
}

// SendEmailCode issues a one-time registration code to the address. The code
// is kept server side; only delivery goes out of process.
func (s *UserService) SendEmailCode(ctx context.Context, email string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	code, err := common.GenerateDigitCode(params.EmailCodeLength)
	if err != nil {
		return errcode.ErrSystem
	}
	if err := s.emailCodes.Set(ctx, email, code, params.EmailCodeExpiration); err != nil {
		slog.Error("Failed to store email verification code", "error", err)
		return errcode.ErrOperationFailed
	}
	if s.mailSender != nil {
		if err := s.mailSender.Send(mailpkg.NewVerificationCodeMessage(email, code, params.EmailCodeExpiration)); err != nil {
			slog.Error("Failed to send verification code", "email", email, "error", err)
			return errcode.ErrExternalService
		}
	}
	return nil
}

// VerifyEmailCode consumes the code for the address; codes are single use.
func (s *UserService) VerifyEmailCode(ctx context.Context, email string, code string) error {
	stored, err := s.emailCodes.Remove(ctx, email)
	if err != nil || stored == "" || stored != code {
		return errcode.ErrVerificationCodeInvalid
	}
	return nil
}

func (s *UserService) SetUserStatus(ctx context.Context, userID uint64, status int) error {
	if err := s.userRepo.Updates(ctx, userID, map[string]interface{}{"status": status}); err != nil {
		return mapStorageError(err)
	}
	return nil
}

// UnlockUser clears the lock and the fail counter, for operator intervention
// ahead of the natural lock expiry.
func (s *UserService) UnlockUser(ctx context.Context, userID uint64) error {
	columns := map[string]interface{}{
		"login_fail_count": 0,
		"locked_until":     nil,
	}
	if err := s.userRepo.Updates(ctx, userID, columns); err != nil {
		return mapStorageError(err)
	}
	return nil
}

func (s *UserService) SetRoles(ctx context.Context, userID uint64, roles []string) error {
	if len(roles) == 0 {
		roles = []string{model.RoleDefault}
	}
	if err := s.userRepo.Updates(ctx, userID, map[string]interface{}{"roles": model.NewRoleSet(roles...)}); err != nil {
		return mapStorageError(err)
	}
	return nil
}

func (s *UserService) AddRole(ctx context.Context, userID uint64, role string) error {
	return s.mutateRoles(ctx, userID, func(roles model.RoleSet) { roles.Add(role) })
}

func (s *UserService) RemoveRole(ctx context.Context, userID uint64, role string) error {
	return s.mutateRoles(ctx, userID, func(roles model.RoleSet) { roles.Remove(role) })
}

// mutateRoles reads the current set, applies the change and writes it back
// under the optimistic version so concurrent role edits cannot clobber each
// other.
func (s *UserService) mutateRoles(ctx context.Context, userID uint64, mutate func(model.RoleSet)) error {
	for attempt := 0; ; attempt++ {
		user, err := s.userRepo.GetByID(ctx, userID)
		if err != nil {
			return mapStorageError(err)
		}
		roles := model.NewRoleSet(user.Roles.List()...)
		mutate(roles)
		rows, err := s.userRepo.UpdateVersioned(ctx, userID, user.Version, map[string]interface{}{"roles": roles})
		if err != nil {
			return mapStorageError(err)
		}
		if rows > 0 {
			return nil
		}
		if attempt >= params.VersionedRetryMax {
			return errcode.ErrOperationFailed
		}
	}
}

// NotifyAccountLocked sends a best-effort lockout alert; delivery failures are
// absorbed.
func (s *UserService) NotifyAccountLocked(user *model.User, until time.Time) {
	if s.mailSender == nil {
		return
	}
	go func() {
		if err := s.mailSender.Send(mailpkg.NewAccountLockedMessage(user.Email, user.DisplayName(), until)); err != nil {
			slog.Error("Failed to send lockout alert", "user", user.Username, "error", err)
		}
	}()
}

// UserSummary is the outward representation of an account; the password
// verifier never appears here.
type UserSummary struct {
	UserID      string     `json:"userId"`
	Username    string     `json:"username"`
	Nickname    string     `json:"nickname,omitempty"`
	Email       string     `json:"email"`
	Roles       []string   `json:"roles"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

func Summarize(user *model.User) UserSummary {
	return UserSummary{
		UserID:      fmt.Sprintf("%d", user.ID),
		Username:    user.Username,
		Nickname:    user.Nickname,
		Email:       user.Email,
		Roles:       user.Roles.List(),
		LastLoginAt: user.LastLoginAt,
	}
}
