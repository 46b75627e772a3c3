package model

import "time"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Credential status strings surfaced by the API. They are always derived
// from Credential state, never stored.
const (
	StatusActive  = "ATIVO"
	StatusExpired = "EXPIRADO"
	StatusRevoked = "REVOGADO"
	StatusRenewed = "ATIVO (RENOVADO)"
)

// Credential is a user's VPN access material as tracked by the panel:
// the 7-character identifier handed to the signer, the expiry, and whether
// the credential is currently enabled. A zero Credential means no
// credential was ever issued.
type Credential struct {
	ID        string     `json:"id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Enabled   bool       `json:"enabled"`
}

// ActiveAt reports whether the credential is usable at the given instant.
// This predicate is the single source of truth for "active"; everything
// that surfaces a status string goes through it.
func (c Credential) ActiveAt(now time.Time) bool {
	return c.Enabled && c.ExpiresAt != nil && c.ExpiresAt.After(now)
}

// StatusAt derives the outward status string. A disabled credential with a
// set expiry is reported as revoked; an enabled one past its expiry (or a
// credential that never got an expiry) as expired.
func (c Credential) StatusAt(now time.Time) string {
	switch {
	case c.ActiveAt(now):
		return StatusActive
	case !c.Enabled && c.ExpiresAt != nil:
		return StatusRevoked
	default:
		return StatusExpired
	}
}

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	FullName     string     `json:"full_name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	Active       bool       `json:"active"`
	Credential   Credential `json:"credential"`
	Lockout      Lockout    `json:"-"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CertStats is the aggregate used by the weekly report and the admin
// stats endpoint.
type CertStats struct {
	Total        int `json:"total"`
	Active       int `json:"active"`
	Expired      int `json:"expired"`
	Revoked      int `json:"revoked"`
	ExpiringSoon int `json:"expiring_soon"`
}
