package models

import "time"

// Password change reasons recorded in history
const (
	PasswordChangeUser  = "user_change"
	PasswordChangeReset = "reset"
)

// PasswordHistoryEntry is an append-only record of a past password hash
type PasswordHistoryEntry struct {
	ID           string    `db:"id"`
	CustomerID   string    `db:"customer_id"`
	PasswordHash string    `db:"password_hash"`
	ChangedAt    time.Time `db:"changed_at"`
	ChangedByIP  *string   `db:"changed_by_ip"`
	ChangeReason *string   `db:"change_reason"`
}

// PasswordContext seeds the strength estimator and scopes the reuse check.
// CustomerID is empty for new accounts.
type PasswordContext struct {
	Email      string
	FirstName  string
	LastName   string
	CustomerID string
}

// PasswordValidationResult aggregates every policy check for one candidate
type PasswordValidationResult struct {
	IsValid            bool     `json:"is_valid"`
	Errors             []string `json:"errors"`
	Score              int      `json:"score"`
	Warning            string   `json:"warning,omitempty"`
	Suggestions        []string `json:"suggestions"`
	IsBreached         bool     `json:"is_breached"`
	BreachCount        int64    `json:"breach_count"`
	IsReused           bool     `json:"is_reused"`
	CrackTimeEstimate  string   `json:"crack_time_estimate"`
	BreachCheckSkipped bool     `json:"breach_check_skipped"`
}

// Err is nil for a valid result. Breached or reused candidates yield
// ErrPasswordCompromised, any other failure ErrPasswordRejected.
func (r *PasswordValidationResult) Err() error {
	switch {
	case r.IsValid:
		return nil
	case r.IsBreached || r.IsReused:
		return ErrPasswordCompromised
	}
	return ErrPasswordRejected
}

// BreachRange is one cached k-anonymity bucket keyed by a 5-char SHA-1 prefix
type BreachRange struct {
	Prefix       string           `json:"prefix"`
	SuffixCounts map[string]int64 `json:"suffix_counts"`
	CheckedAt    time.Time        `json:"checked_at"`
	ExpiresAt    time.Time        `json:"expires_at"`
}

// IsBreached reports whether any entry in the bucket has a positive count
func (b *BreachRange) IsBreached() bool {
	for _, n := range b.SuffixCounts {
		if n > 0 {
			return true
		}
	}
	return false
}

// TotalCount sums the counts of every suffix in the bucket
func (b *BreachRange) TotalCount() int64 {
	var total int64
	for _, n := range b.SuffixCounts {
		total += n
	}
	return total
}

// Lookup returns the breach count of a 35-char upper-hex suffix
func (b *BreachRange) Lookup(suffix string) int64 {
	return b.SuffixCounts[suffix]
}
