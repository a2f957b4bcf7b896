package models

import "time"

// DeviceType classifies the client a session was created from
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceUnknown DeviceType = "unknown"
)

// Revocation reasons recorded on sessions
const (
	RevokeReasonLogout          = "logout"
	RevokeReasonUserRevoked     = "user_revoked"
	RevokeReasonOtherSessions   = "revoke_others"
	RevokeReasonAllSessions     = "revoke_all"
	RevokeReasonPasswordChanged = "password_changed"
	RevokeReasonPasswordReset   = "password_reset"
	RevokeReasonCredentialError = "credential_error"
)

// Session is a server-side record of one authenticated login
type Session struct {
	ID             string     `json:"id" db:"id"`
	CustomerID     string     `json:"customer_id" db:"customer_id"`
	DeviceName     string     `json:"device_name" db:"device_name"`
	DeviceType     DeviceType `json:"device_type" db:"device_type"`
	DeviceBrowser  *string    `json:"device_browser,omitempty" db:"device_browser"`
	BrowserVersion *string    `json:"browser_version,omitempty" db:"browser_version"`
	OSName         *string    `json:"os_name,omitempty" db:"os_name"`
	OSVersion      *string    `json:"os_version,omitempty" db:"os_version"`
	IPAddress      *string    `json:"ip_address,omitempty" db:"ip_address"`
	IPCity         *string    `json:"ip_city,omitempty" db:"ip_city"`
	IPCountry      *string    `json:"ip_country,omitempty" db:"ip_country"`
	TokenHash      *string    `json:"-" db:"token_hash"`
	LoginAt        time.Time  `json:"login_at" db:"login_at"`
	LastActivityAt time.Time  `json:"last_activity_at" db:"last_activity_at"`
	IsActive       bool       `json:"is_active" db:"is_active"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	RevokeReason   *string    `json:"revoke_reason,omitempty" db:"revoke_reason"`

	// IsCurrent is set when listing, never stored
	IsCurrent bool `json:"is_current" db:"-"`
}

// GeoHint is optional coarse location supplied by the caller
type GeoHint struct {
	City    string
	Country string
}

// NewSessionInput carries what is known about a login at creation time
type NewSessionInput struct {
	CustomerID string
	UserAgent  string
	IPAddress  string
	Geo        *GeoHint
}
