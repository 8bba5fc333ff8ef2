package auth

import (
	"errors"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/lib/pq"
)

const (
	TextCodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	TextCodeTokenExpired         = "TOKEN_EXPIRED"
	TextCodeTokenInvalid         = "TOKEN_INVALID"
	TextCodeValidation           = "VALIDATION_ERROR"
	TextCodeConflict             = "ACCOUNT_CONFLICT"
	TextCodeNotFound             = "ACCOUNT_NOT_FOUND"
	TextCodeInvalidTransition    = "INVALID_USER_STATE_TRANSITION"
	TextCodeMalformedHash        = "MALFORMED_PASSWORD_HASH"
)

// ErrAuthenticationFailed is returned for every failed credential check.
// Unknown identifiers, wrong passwords and suspended accounts all map here.
var ErrAuthenticationFailed = goerrors.New("incorrect username, email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeAuthenticationFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a token signature is valid but exp has passed
var ErrTokenExpired = goerrors.New("token has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenInvalid covers empty, malformed and tampered tokens
var ErrTokenInvalid = goerrors.New("token is invalid", goerrors.CategoryBadInput).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeBadRequest)

// ErrConflict is returned when an active account already owns the email or username
var ErrConflict = goerrors.New("an active account already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeConflict).
	WithCode(goerrors.CodeConflict)

// ErrNotFound is returned when no active account matches the lookup
var ErrNotFound = goerrors.New("no active account found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrMalformedHash is returned when a stored digest cannot be parsed
var ErrMalformedHash = goerrors.New("stored password digest is malformed", goerrors.CategoryInternal).
	WithTextCode(TextCodeMalformedHash).
	WithCode(goerrors.CodeInternal)

// ErrUnableToFindSession is returned when a handler runs outside a protected route
var ErrUnableToFindSession = goerrors.New("unable to find session", goerrors.CategoryAuth).
	WithTextCode("SESSION_NOT_FOUND").
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToDecodeSession is returned when the stored session has an unexpected type
var ErrUnableToDecodeSession = goerrors.New("unable to decode session", goerrors.CategoryAuth).
	WithTextCode("SESSION_DECODE_ERROR").
	WithCode(goerrors.CodeUnauthorized)

// NewValidationError wraps field errors produced by ozzo-validation.
func NewValidationError(err error, message string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, message).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest)
}

// IsValidationError reports whether err was produced by NewValidationError
func IsValidationError(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == TextCodeValidation
	}
	var fieldErrs validation.Errors
	return errors.As(err, &fieldErrs)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	return errors.Is(err, ErrTokenExpired)
}

// IsTokenInvalidError will check for malformed or tampered tokens
func IsTokenInvalidError(err error) bool {
	return errors.Is(err, ErrTokenInvalid)
}

// StatusCode maps a domain error to the HTTP status used at the transport boundary.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuthenticationFailed),
		errors.Is(err, ErrUnableToFindSession),
		errors.Is(err, ErrUnableToDecodeSession):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case IsValidationError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// TextCode returns the machine readable code for err, if any
func TextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode != "" {
		return richErr.TextCode
	}
	return "INTERNAL_ERROR"
}

// isUniqueViolation recognises unique constraint failures from the
// postgres and sqlite drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
