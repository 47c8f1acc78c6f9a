package model

import "time"

// MachineKey is a long-lived credential for non-interactive API access.
// The raw key is never stored; only a SHA-256 hash and a short prefix for
// identification are persisted.
type MachineKey struct {
	ID        int64      `json:"id" db:"id"`
	KeyHash   string     `json:"-" db:"key_hash"`
	KeyPrefix string     `json:"key_prefix" db:"key_prefix"`
	Label     string     `json:"label" db:"label"`
	OrgID     int64      `json:"org_id" db:"org_id"`
	ReadOnly  bool       `json:"read_only" db:"read_only"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty" db:"last_used"`
}
