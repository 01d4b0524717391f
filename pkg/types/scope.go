package domain

import (
	"errors"
	"strings"
)

// ErrUnauthenticated is returned when a caller's role cannot be established.
var ErrUnauthenticated = errors.New("missing or invalid caller scope")

// Role is the caller's tenancy level as asserted by the auth proxy.
type Role string

// Roles.
const (
	RoleOwner  Role = "owner"
	RoleDealer Role = "dealer"
)

// Scope restricts what a caller may see. Owners see the whole fleet;
// dealers see only devices mapped to their dealer id.
type Scope struct {
	Role     Role
	DealerID string
}

// OwnerScope returns an unrestricted scope, used by internal jobs.
func OwnerScope() Scope {
	return Scope{Role: RoleOwner}
}

// DealerScope returns a scope restricted to one dealer.
func DealerScope(dealerID string) Scope {
	return Scope{Role: RoleDealer, DealerID: dealerID}
}

// ParseScope builds a Scope from the role and dealer headers. Unknown roles
// and dealer roles without a dealer id are rejected.
func ParseScope(role, dealerID string) (Scope, error) {
	switch Role(strings.ToLower(strings.TrimSpace(role))) {
	case RoleOwner:
		return OwnerScope(), nil
	case RoleDealer:
		dealerID = strings.TrimSpace(dealerID)
		if dealerID == "" {
			return Scope{}, ErrUnauthenticated
		}
		return DealerScope(dealerID), nil
	default:
		return Scope{}, ErrUnauthenticated
	}
}

// IsOwner reports whether the scope is unrestricted.
func (s Scope) IsOwner() bool {
	return s.Role == RoleOwner
}

// Allows reports whether a device owned by dealerID is visible in this scope.
func (s Scope) Allows(dealerID *string) bool {
	if s.IsOwner() {
		return true
	}
	return dealerID != nil && *dealerID == s.DealerID
}
