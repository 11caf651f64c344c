package auth

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ErrNoEmptyString is returned when a required string input is empty
var ErrNoEmptyString = errors.New("value should not be an empty string")

// ErrMismatchedHashAndPassword is the error for a failed credential compare
var ErrMismatchedHashAndPassword = errors.New("passwords do not match")

// ErrUnableToDecodeClaims unable to map decoded claims to TokenClaims
var ErrUnableToDecodeClaims = errors.New("unable to decode claims")

// ErrContextValueTaken reports a write to an already populated request
// context slot, which the pipeline treats as a programming error.
var ErrContextValueTaken = errors.New("request context slot already written")

const (
	textCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	textCodeTokenExpired        = "TOKEN_EXPIRED"
	textCodeTokenMalformed      = "TOKEN_MALFORMED"
	textCodeTokenRequired       = "TOKEN_REQUIRED"
	textCodeRefreshTokenInvalid = "REFRESH_TOKEN_INVALID"

	textCodeEmailVerifyTokenInvalid    = "EMAIL_VERIFY_TOKEN_INVALID"
	textCodeForgotPasswordTokenInvalid = "FORGOT_PASSWORD_TOKEN_INVALID"

	textCodeUserNotVerified = "USER_NOT_VERIFIED"
	textCodeUserIsVerified  = "USER_IS_VERIFIED"
	textCodeEntityNotFound  = "ENTITY_NOT_FOUND"
	textCodeConflict        = "DUPLICATE_RECORD"
)

// HTTP codes the package needs beyond the go-errors convenience constants.
const (
	// CodeUnprocessableEntity is the status for aggregated field errors.
	CodeUnprocessableEntity = 422
	codeForbidden           = 403
)

// ErrInvalidCredentials is returned for a failed login. It never reveals
// which of email or password was wrong.
var ErrInvalidCredentials = goerrors.New("email or password is incorrect", goerrors.CategoryAuth).
	WithTextCode(textCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccessTokenRequired is returned when no bearer token is present.
var ErrAccessTokenRequired = goerrors.New("access token is required", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenRequired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a token fails verification on its expiry.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed covers every non-expiry verification failure: bad
// signature, wrong kind, truncated payload.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrRefreshTokenInvalid is returned when a refresh token fails either the
// signature check or the store lookup. The two cases are indistinguishable.
var ErrRefreshTokenInvalid = goerrors.New("refresh token not exist or not valid", goerrors.CategoryAuth).
	WithTextCode(textCodeRefreshTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailVerifyTokenInvalid is returned when a verify-email token fails the
// signature check or no longer matches the token stored on the account.
var ErrEmailVerifyTokenInvalid = goerrors.New("email verify token not exist or not valid", goerrors.CategoryAuth).
	WithTextCode(textCodeEmailVerifyTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrForgotPasswordTokenInvalid is the forgot-password equivalent. A token
// invalidated by a later reset request fails here too.
var ErrForgotPasswordTokenInvalid = goerrors.New("forgot password token not exist or not valid", goerrors.CategoryAuth).
	WithTextCode(textCodeForgotPasswordTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrUserNotVerified gates verified-only actions.
var ErrUserNotVerified = goerrors.New("user is not verified", goerrors.CategoryAuth).
	WithTextCode(textCodeUserNotVerified).
	WithCode(codeForbidden)

// ErrUserAlreadyVerified is returned when a verify flow is attempted on an
// account that already completed it.
var ErrUserAlreadyVerified = goerrors.New("user is already verified", goerrors.CategoryConflict).
	WithTextCode(textCodeUserIsVerified).
	WithCode(goerrors.CodeConflict)

// ErrEntityNotFound is returned for a missing foreign entity. It is also
// returned when the entity exists but is not eligible, so callers cannot
// probe which of the two happened.
var ErrEntityNotFound = goerrors.New("entity not found", goerrors.CategoryNotFound).
	WithTextCode(textCodeEntityNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrDuplicateRecord is returned when the store rejects an insert on a
// uniqueness constraint that raced past the pipeline pre-check.
var ErrDuplicateRecord = goerrors.New("record already exists", goerrors.CategoryConflict).
	WithTextCode(textCodeConflict).
	WithCode(goerrors.CodeConflict)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode == textCodeTokenExpired {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode == textCodeTokenMalformed {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// IsAuthFailure reports whether err classifies as a request-scoped
// authentication failure rather than a field-level validation error.
func IsAuthFailure(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.Category == goerrors.CategoryAuth
}
