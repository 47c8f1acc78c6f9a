package model

import "time"

// User is a portal account. Interactive logins exchange email+password for
// a session token; the role name and read-only flag are copied into the
// token's claims at issuance.
type User struct {
	ID           int64      `json:"id" db:"id"`
	UUID         string     `json:"uuid" db:"uuid"`
	Email        string     `json:"email" db:"email"`
	Name         string     `json:"name" db:"name"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Role         string     `json:"role" db:"role"`
	ReadOnly     bool       `json:"read_only" db:"read_only"`
	OrgID        int64      `json:"org_id" db:"org_id"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// Organization groups users and scopes which address ranges their rules may
// target. Ranges is a comma-separated list of CIDR prefixes; empty means
// unrestricted.
type Organization struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Ranges    string    `json:"ranges" db:"ranges"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
