// Package errcode defines the closed error taxonomy shared by every service in
// this repository. Each failure maps to a stable numeric code; category
// membership is derivable purely from the code's numeric band.
package errcode

import (
	"errors"
	"fmt"
)

// Error is a taxonomy entry. The package-level vars below form the complete,
// closed set; services never surface failures outside of it.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Is matches by code so errors.Is works on wrapped taxonomy errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithMessage returns a copy carrying a caller-supplied message. The code, and
// therefore the category and transport mapping, stay unchanged.
func (e *Error) WithMessage(message string) *Error {
	return &Error{Code: e.Code, Message: message}
}

const CodeSuccess = 200

// Generic errors (1000-1999).
var (
	ErrSystem             = &Error{1000, "internal system error"}
	ErrInvalidParameter   = &Error{1001, "invalid parameter"}
	ErrValidationFailed   = &Error{1002, "parameter validation failed"}
	ErrBusiness           = &Error{1003, "business rule violation"}
	ErrResourceNotFound   = &Error{1004, "resource not found"}
	ErrOperationFailed    = &Error{1005, "operation failed"}
	ErrDataConflict       = &Error{1006, "data conflict"}
	ErrRateLimitExceeded  = &Error{1007, "request rate limit exceeded"}
	ErrServiceUnavailable = &Error{1008, "service unavailable"}
)

// Authentication and authorization errors (2000-2999).
var (
	ErrAuthenticationFailed    = &Error{2000, "authentication failed"}
	ErrAuthorizationFailed     = &Error{2001, "authorization failed"}
	ErrTokenInvalid            = &Error{2002, "token is invalid"}
	ErrTokenExpired            = &Error{2003, "token has expired"}
	ErrTokenMissing            = &Error{2004, "token is missing"}
	ErrRefreshTokenInvalid     = &Error{2005, "refresh token is invalid"}
	ErrRefreshTokenExpired     = &Error{2006, "refresh token has expired"}
	ErrSessionExpired          = &Error{2007, "session has expired"}
	ErrPermissionDenied        = &Error{2008, "permission denied"}
	ErrAccountDisabled         = &Error{2009, "account is disabled"}
	ErrAccountLocked           = &Error{2010, "account is locked, try again later"}
	ErrCaptchaInvalid          = &Error{2011, "captcha verification failed"}
	ErrVerificationCodeInvalid = &Error{2012, "verification code is invalid or expired"}
)

// User domain errors (3000-3999).
var (
	ErrUserNotFound          = &Error{3000, "user does not exist"}
	ErrUsernameAlreadyExists = &Error{3001, "username already exists"}
	ErrEmailAlreadyExists    = &Error{3002, "email already exists"}
	ErrPhoneAlreadyExists    = &Error{3003, "phone number already exists"}
	ErrInvalidCredentials    = &Error{3004, "incorrect username or password"}
	ErrPasswordTooWeak       = &Error{3005, "password does not meet strength requirements"}
	ErrOldPasswordIncorrect  = &Error{3006, "old password is incorrect"}
	ErrUserRegistration      = &Error{3007, "user registration failed"}
	ErrUserUpdate            = &Error{3008, "user update failed"}
	ErrLoginAttemptsExceeded = &Error{3009, "too many failed login attempts"}
)

// Storage errors (5000-5999).
var (
	ErrDatabase               = &Error{5000, "database error"}
	ErrDataIntegrityViolation = &Error{5001, "data integrity violation"}
	ErrDuplicateKey           = &Error{5002, "duplicate key"}
	ErrForeignKeyConstraint   = &Error{5003, "foreign key constraint violation"}
	ErrOptimisticLockConflict = &Error{5004, "record was modified concurrently"}
	ErrTransactionRollback    = &Error{5005, "transaction rolled back"}
	ErrConnectionTimeout      = &Error{5006, "storage connection timed out"}
)

// Network errors (7000-7999).
var (
	ErrNetwork              = &Error{7000, "network error"}
	ErrConnectionTimeoutNet = &Error{7001, "connection timed out"}
	ErrReadTimeout          = &Error{7002, "read timed out"}
	ErrExternalService      = &Error{7003, "external service error"}
	ErrAPICallFailed        = &Error{7004, "api call failed"}
)

var registry = []*Error{
	ErrSystem, ErrInvalidParameter, ErrValidationFailed, ErrBusiness,
	ErrResourceNotFound, ErrOperationFailed, ErrDataConflict,
	ErrRateLimitExceeded, ErrServiceUnavailable,
	ErrAuthenticationFailed, ErrAuthorizationFailed, ErrTokenInvalid,
	ErrTokenExpired, ErrTokenMissing, ErrRefreshTokenInvalid,
	ErrRefreshTokenExpired, ErrSessionExpired, ErrPermissionDenied,
	ErrAccountDisabled, ErrAccountLocked, ErrCaptchaInvalid,
	ErrVerificationCodeInvalid,
	ErrUserNotFound, ErrUsernameAlreadyExists, ErrEmailAlreadyExists,
	ErrPhoneAlreadyExists, ErrInvalidCredentials, ErrPasswordTooWeak,
	ErrOldPasswordIncorrect, ErrUserRegistration, ErrUserUpdate,
	ErrLoginAttemptsExceeded,
	ErrDatabase, ErrDataIntegrityViolation, ErrDuplicateKey,
	ErrForeignKeyConstraint, ErrOptimisticLockConflict,
	ErrTransactionRollback, ErrConnectionTimeout,
	ErrNetwork, ErrConnectionTimeoutNet, ErrReadTimeout,
	ErrExternalService, ErrAPICallFailed,
}

// All returns every taxonomy entry.
func All() []*Error {
	out := make([]*Error, len(registry))
	copy(out, registry)
	return out
}

// FromCode resolves a numeric code back to its taxonomy entry, falling back to
// ErrSystem for unknown codes.
func FromCode(code int) *Error {
	for _, e := range registry {
		if e.Code == code {
			return e
		}
	}
	return ErrSystem
}

// FromError normalizes any error to a taxonomy entry, unwrapping as needed.
// Non-taxonomy errors collapse to ErrSystem so raw causes never leak to
// callers.
func FromError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrSystem
}

func IsGenericError(code int) bool { return code >= 1000 && code < 2000 }
func IsAuthError(code int) bool    { return code >= 2000 && code < 3000 }
func IsUserError(code int) bool    { return code >= 3000 && code < 4000 }
func IsStorageError(code int) bool { return code >= 5000 && code < 6000 }
func IsNetworkError(code int) bool { return code >= 7000 && code < 8000 }
