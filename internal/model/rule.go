package model

import "time"

// RuleKind discriminates the three rule families the portal manages.
type RuleKind string

const (
	KindIPv4 RuleKind = "ipv4"
	KindIPv6 RuleKind = "ipv6"
	KindRTBH RuleKind = "rtbh"
)

// Valid reports whether k is one of the recognized rule kinds.
func (k RuleKind) Valid() bool {
	switch k {
	case KindIPv4, KindIPv6, KindRTBH:
		return true
	}
	return false
}

// Rule states track the life cycle of a rule after acceptance.
const (
	StateActive    = "active"
	StateWithdrawn = "withdrawn"
	StateExpired   = "expired"
)

// Rule is the canonical, validated form of a flowspec or RTBH rule. Match
// fields that do not apply to the rule's kind are left empty (e.g. an RTBH
// rule carries only a destination and a community).
type Rule struct {
	ID           int64     `json:"id" db:"id"`
	Kind         RuleKind  `json:"kind" db:"kind"`
	Source       string    `json:"source,omitempty" db:"source"`
	SourceMask   int       `json:"source_mask,omitempty" db:"source_mask"`
	SourcePort   string    `json:"source_port,omitempty" db:"source_port"`
	Dest         string    `json:"dest,omitempty" db:"dest"`
	DestMask     int       `json:"dest_mask,omitempty" db:"dest_mask"`
	DestPort     string    `json:"dest_port,omitempty" db:"dest_port"`
	Protocol     string    `json:"protocol,omitempty" db:"protocol"`
	PacketLength string    `json:"packet_len,omitempty" db:"packet_len"`
	Flags        string    `json:"flags,omitempty" db:"flags"`
	ActionID     int       `json:"action" db:"action_id"`
	Community    string    `json:"community,omitempty" db:"community"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	UserID       int64     `json:"user_id" db:"user_id"`
	OrgID        int64     `json:"org_id" db:"org_id"`
	State        string    `json:"state" db:"state"`
	// RemoteID is the identifier the DDoS-protection backend assigned to
	// this rule on create; required to delete it remotely later.
	RemoteID   string    `json:"remote_id,omitempty" db:"remote_id"`
	Dispatched bool      `json:"dispatched" db:"dispatched"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Action describes a flowspec "then" clause selectable by numeric id.
// The catalog mirrors the action table the portal seeds on first run.
type Action struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Command string `json:"command"` // ExaBGP "then" clause text
}

// DefaultActions is the built-in action catalog. IDs are stable; rules
// reference actions by id in both the API payload and the database.
var DefaultActions = []Action{
	{ID: 1, Name: "discard", Command: "discard"},
	{ID: 2, Name: "rate-limit 9600 bps", Command: "rate-limit 9600"},
	{ID: 3, Name: "rate-limit 1 Mbps", Command: "rate-limit 1000000"},
	{ID: 4, Name: "rate-limit 10 Mbps", Command: "rate-limit 10000000"},
}

// ActionByID looks up an action in the default catalog.
func ActionByID(id int) (Action, bool) {
	for _, a := range DefaultActions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}
