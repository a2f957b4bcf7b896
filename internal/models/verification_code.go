package models

import (
	"time"
)

// CodePurpose scopes a verification code to a single flow
type CodePurpose string

const (
	PurposePasswordReset     CodePurpose = "password_reset"
	PurposeEmailVerification CodePurpose = "email_verification"
	PurposeAccountUnlock     CodePurpose = "account_unlock"
)

// Valid reports whether p is a known purpose
func (p CodePurpose) Valid() bool {
	switch p {
	case PurposePasswordReset, PurposeEmailVerification, PurposeAccountUnlock:
		return true
	}
	return false
}

// ConsumedOnValidation reports whether a successful validation marks the code used.
// Password reset codes stay live until the new password is stored.
func (p CodePurpose) ConsumedOnValidation() bool {
	return p != PurposePasswordReset
}

// VerificationCode is a short-lived numeric code tied to an email and purpose
type VerificationCode struct {
	ID          string      `json:"id" db:"id"`
	Email       string      `json:"email" db:"email"`
	Code        string      `json:"-" db:"code"`
	Purpose     CodePurpose `json:"type" db:"type"`
	Attempts    int         `json:"attempts" db:"attempts"`
	MaxAttempts int         `json:"max_attempts" db:"max_attempts"`
	ExpiresAt   time.Time   `json:"expires_at" db:"expires_at"`
	IsUsed      bool        `json:"is_used" db:"is_used"`
	UsedAt      *time.Time  `json:"used_at,omitempty" db:"used_at"`
	IPAddress   *string     `json:"ip_address,omitempty" db:"ip_address"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}

// IsExpired checks if the code has expired
func (c *VerificationCode) IsExpired() bool {
	return !time.Now().Before(c.ExpiresAt)
}

// IsActive checks if the code can still be redeemed
func (c *VerificationCode) IsActive() bool {
	return !c.IsUsed && !c.IsExpired()
}

// AttemptsExhausted checks if no guesses remain
func (c *VerificationCode) AttemptsExhausted() bool {
	return c.Attempts >= c.MaxAttempts
}

// CodeAttemptResult is the outcome of one atomic guess against a code
type CodeAttemptResult struct {
	Matched     bool
	Attempts    int
	MaxAttempts int
}
