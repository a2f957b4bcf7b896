package models

import (
	"time"
)

// Customer is the slice of the customer record the security core reads.
// The table itself is owned by the account domain.
type Customer struct {
	ID            string
	Email         string
	PasswordHash  string // empty for guest checkouts
	FirstName     string
	LastName      string
	EmailVerified bool
	IsActive      bool
	IsGuest       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CanSignIn reports whether the customer has a usable password login
func (c *Customer) CanSignIn() bool {
	return c.IsActive && !c.IsGuest && c.PasswordHash != ""
}
