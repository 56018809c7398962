// Package captcha keeps challenge codes server side under a one-time token.
// Rendering the code as an image is the transport collaborator's problem.
package captcha

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sikulab/secauth/internal/common"
	"github.com/sikulab/secauth/internal/errcode"
	"github.com/sikulab/secauth/internal/store"
	"github.com/sikulab/secauth/params"
)

type Verifier interface {
	Verify(ctx context.Context, token string, answer string) error
}

// Challenge is what Issue hands to the transport layer. Code is included so a
// rendering collaborator can draw it; it must never be sent to the client.
type Challenge struct {
	Token     string `json:"captchaToken"`
	Code      string `json:"-"`
	ExpiresIn int64  `json:"expiresIn"`
}

type Service struct {
	codes store.Store[string]
}

func NewService(codes store.Store[string]) *Service {
	return &Service{codes: codes}
}

func (s *Service) Issue(ctx context.Context) (*Challenge, error) {
	code, err := common.GenerateCaptchaCode(params.CaptchaCodeLength)
	if err != nil {
		return nil, errcode.ErrSystem
	}
	token := uuid.NewString()
	if err := s.codes.Set(ctx, token, strings.ToLower(code), params.CaptchaExpiration); err != nil {
		return nil, errcode.ErrOperationFailed
	}
	return &Challenge{
		Token:     token,
		Code:      code,
		ExpiresIn: int64(params.CaptchaExpiration.Seconds()),
	}, nil
}

// Verify consumes the challenge; a token can only be answered once, right or
// wrong.
func (s *Service) Verify(ctx context.Context, token string, answer string) error {
	if token == "" || answer == "" {
		return errcode.ErrCaptchaInvalid
	}
	code, err := s.codes.Remove(ctx, token)
	if err != nil || code != strings.ToLower(answer) {
		return errcode.ErrCaptchaInvalid
	}
	return nil
}

// NullVerifier accepts everything, for deployments with captcha disabled.
type NullVerifier struct{}

func (NullVerifier) Verify(ctx context.Context, token string, answer string) error {
	return nil
}
