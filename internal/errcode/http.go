package errcode

import "net/http"

// HTTPStatus maps a taxonomy code to a transport status. This is the only
// place in the repository that knows about wire representation; it is a pure
// function of the code.
func HTTPStatus(code int) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case ErrInvalidParameter.Code, ErrValidationFailed.Code,
		ErrPasswordTooWeak.Code, ErrCaptchaInvalid.Code,
		ErrVerificationCodeInvalid.Code:
		return http.StatusBadRequest
	case ErrPermissionDenied.Code, ErrAuthorizationFailed.Code:
		return http.StatusForbidden
	case ErrResourceNotFound.Code, ErrUserNotFound.Code:
		return http.StatusNotFound
	case ErrAccountLocked.Code, ErrLoginAttemptsExceeded.Code:
		return http.StatusLocked
	case ErrUsernameAlreadyExists.Code, ErrEmailAlreadyExists.Code,
		ErrPhoneAlreadyExists.Code, ErrDataConflict.Code, ErrDuplicateKey.Code,
		ErrOptimisticLockConflict.Code:
		return http.StatusConflict
	case ErrRateLimitExceeded.Code:
		return http.StatusTooManyRequests
	case ErrServiceUnavailable.Code, ErrConnectionTimeout.Code,
		ErrConnectionTimeoutNet.Code, ErrReadTimeout.Code:
		return http.StatusServiceUnavailable
	}
	// The remaining auth band (invalid/expired/missing token, disabled account,
	// invalid credentials) is a plain 401. Unknown-user and wrong-password both
	// land here with identical shape.
	if IsAuthError(code) || code == ErrInvalidCredentials.Code {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
