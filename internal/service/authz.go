package service

import (
	"errors"
	"fmt"

	"github.com/exafs/flowadmin/internal/model"
)

// ErrForbidden marks a valid identity lacking permission for the requested
// operation. It maps to 403, distinct from the 401 verification failures.
var ErrForbidden = errors.New("operation not permitted")

// Authorizer is the single gate every entry point (JSON API and form path)
// must pass rule operations through. Decision table:
//
//	read-only: deny create/update/delete, allow read
//	full:      allow all within own organization
//	admin:     allow all, plus cross-organization read
type Authorizer struct{}

// NewAuthorizer creates the authorization gate.
func NewAuthorizer() *Authorizer {
	return &Authorizer{}
}

// Authorize decides whether the identity may perform op on a rule of the
// given kind. It performs no normalization; the identity and kind pass
// through unchanged on allow.
func (a *Authorizer) Authorize(id *model.Identity, op model.Operation, kind model.RuleKind) error {
	if id == nil {
		return ErrForbidden
	}
	if op.Mutating() && id.EffectivePermission() < model.PermFull {
		return fmt.Errorf("%w: %s requires full permission", ErrForbidden, op)
	}
	return nil
}

// CanAccessRule decides whether the identity may see or act on an existing
// rule. Admins see every organization; everyone else only their own.
func (a *Authorizer) CanAccessRule(id *model.Identity, r *model.Rule) bool {
	if id == nil {
		return false
	}
	if id.Permission == model.PermAdmin {
		return true
	}
	return r.OrgID == id.OrgID
}

// VisibleOrg returns the organization filter for list queries: 0 (all
// organizations) for admins, the identity's own organization otherwise.
func (a *Authorizer) VisibleOrg(id *model.Identity) int64 {
	if id.Permission == model.PermAdmin {
		return 0
	}
	return id.OrgID
}
