package model

// PermissionLevel orders what an identity may do. View roles and tokens
// carrying the read-only flag can only list rules; user roles manage rules
// within their own organization; admins additionally see every organization.
type PermissionLevel int

const (
	PermReadOnly PermissionLevel = iota + 1
	PermFull
	PermAdmin
)

func (p PermissionLevel) String() string {
	switch p {
	case PermReadOnly:
		return "read-only"
	case PermFull:
		return "full"
	case PermAdmin:
		return "admin"
	}
	return "unknown"
}

// ParsePermission maps a stored role name to a permission level.
// Unknown names degrade to read-only rather than failing open.
func ParsePermission(role string) PermissionLevel {
	switch role {
	case "admin":
		return PermAdmin
	case "user":
		return PermFull
	default:
		return PermReadOnly
	}
}

// Operation is a requested action on a rule, checked by the authorization gate.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpRead   Operation = "read"
)

// Mutating reports whether the operation changes state.
func (o Operation) Mutating() bool {
	return o != OpRead
}

// Identity is the result of successful credential verification. It is
// reconstructed per request and never persisted; the token or key record
// it came from is the durable artifact.
type Identity struct {
	// Subject is the user email or the machine key prefix.
	Subject string `json:"subject"`
	// Kind is "user" for session tokens and "machine" for API keys.
	Kind       string          `json:"kind"`
	UserID     int64           `json:"user_id,omitempty"`
	OrgID      int64           `json:"org_id"`
	Permission PermissionLevel `json:"-"`
	// ReadOnly is surfaced separately from Permission so a read-only flag
	// stamped on an otherwise full-permission token still denies mutations.
	ReadOnly bool `json:"read_only"`
}

// EffectivePermission collapses the read-only flag into the permission level.
func (id *Identity) EffectivePermission() PermissionLevel {
	if id.ReadOnly {
		return PermReadOnly
	}
	return id.Permission
}
