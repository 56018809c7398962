package users

import (
	"net/mail"
	"regexp"
	"unicode"

	"github.com/sikulab/secauth/internal/errcode"
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{2,49}$`)

func validateUsername(username string) *errcode.Error {
	if !usernameRegex.MatchString(username) {
		return errcode.ErrValidationFailed.WithMessage("username must be 3-50 characters, start with a letter and contain only letters, numbers and underscores")
	}
	return nil
}

func validateEmail(email string) *errcode.Error {
	if _, err := mail.ParseAddress(email); err != nil {
		return errcode.ErrValidationFailed.WithMessage("invalid email address")
	}
	return nil
}

// validatePassword enforces the minimum strength policy: at least 8
// characters with upper case, lower case and a digit.
func validatePassword(password string) *errcode.Error {
	if len(password) < 8 || len(password) > 100 {
		return errcode.ErrPasswordTooWeak
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return errcode.ErrPasswordTooWeak
	}
	return nil
}
