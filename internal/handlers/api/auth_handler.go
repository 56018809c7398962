package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sikulab/secauth/internal/audit"
	"github.com/sikulab/secauth/internal/auth"
	"github.com/sikulab/secauth/internal/captcha"
	"github.com/sikulab/secauth/internal/errcode"
	"github.com/sikulab/secauth/internal/middlewares"
	"github.com/sikulab/secauth/internal/users"
)

// HeaderDeviceID lets clients self-report a device identifier for the audit
// trail.
const HeaderDeviceID = "X-Device-Id"

type AuthHandler struct {
	authenticator  *auth.Authenticator
	tokenService   *auth.TokenService
	userService    *users.UserService
	captchaService *captcha.Service
	recorder       *audit.Recorder
}

func NewAuthHandler(authenticator *auth.Authenticator, tokenService *auth.TokenService, userService *users.UserService, captchaService *captcha.Service, recorder *audit.Recorder) *AuthHandler {
	return &AuthHandler{
		authenticator:  authenticator,
		tokenService:   tokenService,
		userService:    userService,
		captchaService: captchaService,
		recorder:       recorder,
	}
}

type loginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	CaptchaToken  string `json:"captchaToken"`
	CaptchaAnswer string `json:"captchaAnswer"`
	RememberMe    bool   `json:"rememberMe"`
}

type loginResponse struct {
	User  users.UserSummary `json:"user"`
	Token *auth.TokenPair   `json:"token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword     string `json:"oldPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type sendEmailCodeRequest struct {
	Email string `json:"email"`
}

type captchaResponse struct {
	CaptchaToken string `json:"captchaToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func requestClient(ctx *fiber.Ctx) audit.Client {
	return audit.Client{
		IP:        ctx.IP(),
		UserAgent: ctx.Get(fiber.HeaderUserAgent),
		Device:    ctx.Get(HeaderDeviceID),
		TraceID:   middlewares.TraceID(ctx),
	}
}

func (h *AuthHandler) PostLogin(ctx *fiber.Ctx) error {
	var req loginRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errcode.ErrInvalidParameter
	}
	if req.Username == "" || req.Password == "" {
		return errcode.ErrInvalidParameter
	}
	answer := auth.CaptchaAnswer{Token: req.CaptchaToken, Answer: req.CaptchaAnswer}
	user, err := h.authenticator.Authenticate(ctx.Context(), req.Username, req.Password, answer, requestClient(ctx))
	if err != nil {
		return err
	}
	pair, err := h.tokenService.Issue(ctx.Context(), user, requestClient(ctx), req.RememberMe)
	if err != nil {
		return err
	}
	return renderData(ctx, loginResponse{
		User:  users.Summarize(user),
		Token: pair,
	})
}

func (h *AuthHandler) PostRefresh(ctx *fiber.Ctx) error {
	var req refreshRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errcode.ErrInvalidParameter
	}
	if req.RefreshToken == "" {
		return errcode.ErrTokenMissing
	}
	pair, err := h.tokenService.Refresh(ctx.Context(), req.RefreshToken, requestClient(ctx))
	if err != nil {
		return err
	}
	return renderData(ctx, pair)
}

func (h *AuthHandler) PostLogout(ctx *fiber.Ctx) error {
	session := middlewares.UserSession(ctx)
	if err := h.tokenService.Revoke(ctx.Context(), session.SessionID, requestClient(ctx)); err != nil {
		return err
	}
	return renderData(ctx, nil)
}

func (h *AuthHandler) PostRegister(ctx *fiber.Ctx) error {
	var input users.RegisterInput
	if err := ctx.BodyParser(&input); err != nil {
		return errcode.ErrInvalidParameter
	}
	client := requestClient(ctx)
	answer := auth.CaptchaAnswer{Token: input.CaptchaToken, Answer: input.CaptchaAnswer}
	if err := h.authenticator.VerifyCaptcha(ctx.Context(), answer); err != nil {
		h.recorder.RecordRegister(audit.RegisterRecord{
			Actor:  audit.Actor{Username: input.Username},
			Client: client,
			Reason: errcode.FromError(err).Message,
		})
		return err
	}
	user, err := h.userService.Register(ctx.Context(), input)
	if err != nil {
		h.recorder.RecordRegister(audit.RegisterRecord{
			Actor:  audit.Actor{Username: input.Username},
			Client: client,
			Reason: errcode.FromError(err).Message,
		})
		return err
	}
	h.recorder.RecordRegister(audit.RegisterRecord{
		Actor:   audit.Actor{UserID: user.ID, Username: user.Username},
		Client:  client,
		Success: true,
	})
	pair, err := h.tokenService.Issue(ctx.Context(), user, client, false)
	if err != nil {
		return err
	}
	return renderData(ctx, loginResponse{
		User:  users.Summarize(user),
		Token: pair,
	})
}

func (h *AuthHandler) PostChangePassword(ctx *fiber.Ctx) error {
	var req changePasswordRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errcode.ErrInvalidParameter
	}
	session := middlewares.UserSession(ctx)
	client := requestClient(ctx)
	actor := audit.Actor{UserID: session.UserID, Username: session.Username}
	err := h.userService.ChangePassword(ctx.Context(), session.UserID, req.OldPassword, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		h.recorder.RecordPasswordChange(audit.PasswordChangeRecord{
			Actor:  actor,
			Client: client,
			Reason: errcode.FromError(err).Message,
		})
		return err
	}
	h.recorder.RecordPasswordChange(audit.PasswordChangeRecord{
		Actor:   actor,
		Client:  client,
		Success: true,
	})
	// Changing the password ends the current session; the client must sign in
	// again with the new credential.
	if err := h.tokenService.Revoke(ctx.Context(), session.SessionID, client); err != nil {
		return err
	}
	return renderData(ctx, nil)
}

func (h *AuthHandler) GetProfile(ctx *fiber.Ctx) error {
	session := middlewares.UserSession(ctx)
	user, err := h.userService.GetUserByID(ctx.Context(), session.UserID)
	if err != nil {
		return err
	}
	return renderData(ctx, users.Summarize(user))
}

func (h *AuthHandler) GetCaptcha(ctx *fiber.Ctx) error {
	if h.captchaService == nil {
		return errcode.ErrResourceNotFound
	}
	challenge, err := h.captchaService.Issue(ctx.Context())
	if err != nil {
		return err
	}
	return renderData(ctx, captchaResponse{
		CaptchaToken: challenge.Token,
		ExpiresIn:    challenge.ExpiresIn,
	})
}

func (h *AuthHandler) PostSendEmailCode(ctx *fiber.Ctx) error {
	var req sendEmailCodeRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errcode.ErrInvalidParameter
	}
	if err := h.userService.SendEmailCode(ctx.Context(), req.Email); err != nil {
		return err
	}
	return renderData(ctx, nil)
}
