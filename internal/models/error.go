package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidInput   = errors.New("invalid input")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrLockedOut      = errors.New("account is temporarily locked")
	ErrForbidden      = errors.New("forbidden")
	ErrInternalServer = errors.New("internal server error")
)

// SecurityError is an expected, caller-facing failure. Code is stable and
// machine readable; Kind is one of the sentinel errors above so callers can
// branch with errors.Is.
type SecurityError struct {
	Code    string
	Message string
	Kind    error
}

func (e *SecurityError) Error() string {
	return e.Message
}

func (e *SecurityError) Unwrap() error {
	return e.Kind
}

func newSecurityError(kind error, code, message string) *SecurityError {
	return &SecurityError{Code: code, Message: message, Kind: kind}
}

// Verification code failures
var (
	ErrCodeNotFound         = newSecurityError(ErrNotFound, "CODE_NOT_FOUND", "verification code not found or expired")
	ErrInvalidCode          = newSecurityError(ErrInvalidInput, "INVALID_CODE", "verification code is incorrect")
	ErrMaxAttemptsExceeded  = newSecurityError(ErrRateLimited, "MAX_ATTEMPTS_EXCEEDED", "too many incorrect attempts for this code")
	ErrInvalidCodeFormat    = newSecurityError(ErrInvalidInput, "INVALID_CODE_FORMAT", "verification code must be 6 digits")
	ErrInvalidPurpose       = newSecurityError(ErrInvalidInput, "INVALID_PURPOSE", "unknown verification code purpose")
	ErrCodeRequestThrottled = newSecurityError(ErrRateLimited, "CODE_REQUEST_THROTTLED", "a code was sent recently, please wait before requesting another")
)

// Session failures
var (
	ErrSessionNotFound     = newSecurityError(ErrNotFound, "SESSION_NOT_FOUND", "session not found or revoked")
	ErrTokenHashAlreadySet = newSecurityError(ErrConflict, "TOKEN_ALREADY_BOUND", "session credential is already bound")
)

// Credential and password failures
var (
	ErrInvalidCredentials  = newSecurityError(ErrUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
	ErrPasswordRejected    = newSecurityError(ErrInvalidInput, "PASSWORD_REJECTED", "password does not meet the password policy")
	ErrPasswordCompromised = newSecurityError(ErrConflict, "PASSWORD_COMPROMISED", "password has appeared in a data breach or was used recently")
	ErrEmailNotVerified    = newSecurityError(ErrForbidden, "EMAIL_NOT_VERIFIED", "email address not verified")
)

// LockedOutError reports an active lockout and how long it remains.
type LockedOutError struct {
	Until      time.Time
	RetryAfter time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("account is temporarily locked, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedOutError) Unwrap() error {
	return ErrLockedOut
}

// IsExpected reports whether err is a caller-facing failure rather than an
// infrastructure fault.
func IsExpected(err error) bool {
	var se *SecurityError
	if errors.As(err, &se) {
		return true
	}
	var le *LockedOutError
	return errors.As(err, &le)
}

// ErrorCode returns the stable code for an expected failure, or "" otherwise.
func ErrorCode(err error) string {
	var se *SecurityError
	if errors.As(err, &se) {
		return se.Code
	}
	var le *LockedOutError
	if errors.As(err, &le) {
		return "LOCKED_OUT"
	}
	return ""
}
