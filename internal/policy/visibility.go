// Package policy decides which user records a caller may see.
//
// Admins see everything, including disabled (soft-deleted) accounts. Every other
// role, moderator and guest included, sees active accounts only.
package policy

import "go-user-directory/internal/domain"

// VisibilityFilter returns the predicate for a caller holding roles.
func VisibilityFilter(roles []domain.Role) domain.Filter {
	for _, r := range roles {
		if r == domain.RoleAdmin {
			return domain.Filter{IncludeDisabled: true}
		}
	}
	return domain.Filter{}
}

// For is VisibilityFilter applied to an identity.
func For(id domain.Identity) domain.Filter { return VisibilityFilter(id.Roles) }

// Unfiltered sees every record. Only state transitions that must observe the
// disabled flag use it.
func Unfiltered() domain.Filter { return domain.Filter{IncludeDisabled: true} }

// ActiveOnly is the filter login and token verification use.
func ActiveOnly() domain.Filter { return domain.Filter{} }
