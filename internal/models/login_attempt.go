package models

import "time"

// AttemptKind separates real login attempts from lockout resets
type AttemptKind string

const (
	AttemptLogin  AttemptKind = "login"
	AttemptUnlock AttemptKind = "unlock"
)

// Failure reasons recorded on login attempts
const (
	FailureInvalidCredentials = "invalid_credentials"
	FailureUnknownAccount     = "unknown_account"
	FailureAccountLocked      = "account_locked"
	FailureAccountDisabled    = "account_disabled"
	FailureEmailNotVerified   = "email_not_verified"
)

// LoginAttempt represents a single login attempt in the system
type LoginAttempt struct {
	ID                  string      `json:"id" db:"id"`
	CustomerID          *string     `json:"customer_id,omitempty" db:"customer_id"`
	Email               string      `json:"email" db:"email"`
	Success             bool        `json:"success" db:"success"`
	FailureReason       *string     `json:"failure_reason,omitempty" db:"failure_reason"`
	IPAddress           string      `json:"ip_address" db:"ip_address"`
	UserAgent           string      `json:"user_agent" db:"user_agent"`
	DeviceSummary       string      `json:"device_summary" db:"device_summary"`
	Kind                AttemptKind `json:"kind" db:"kind"`
	TriggeredLockout    bool        `json:"triggered_lockout" db:"triggered_lockout"`
	ConsecutiveFailures int         `json:"consecutive_failures" db:"consecutive_failures"`
	AttemptedAt         time.Time   `json:"attempted_at" db:"attempted_at"`
}

// LoginAttemptInput is what the caller knows about an attempt
type LoginAttemptInput struct {
	Email         string
	Success       bool
	FailureReason string
	IPAddress     string
	UserAgent     string
	CustomerID    *string
	// Locked marks an attempt refused by an active lockout. It is logged but
	// leaves the streak where it was.
	Locked bool
}

// TrackingKeyKind names the column lockout streaks are computed over
type TrackingKeyKind string

const (
	TrackByEmail TrackingKeyKind = "email"
	TrackByIP    TrackingKeyKind = "ip"
)

// TrackingKey identifies the subject whose failures are counted
type TrackingKey struct {
	Kind  TrackingKeyKind
	Value string
}

// LockoutStatus is derived from the attempt log at read time
type LockoutStatus struct {
	IsLocked            bool          `json:"is_locked"`
	LockoutEndTime      *time.Time    `json:"lockout_end_time,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	RemainingTime       time.Duration `json:"remaining_time"`
}
