package auth

import (
	"context"
	"strings"

	"matchbase.io/internal/apperr"
)

// Role is the coarse authorization role of a user row.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCompany Role = "company"
)

// ParseRole normalises raw into a known role.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleCompany:
		return RoleCompany, true
	}
	return "", false
}

// Principal is the resolved caller: the provider subject plus the local user
// row it maps to.
type Principal struct {
	UserID    string
	SubjectID string
	CompanyID string
	Email     string
	Role      Role
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// OwnsCompany reports whether p is a company user of companyID.
func (p Principal) OwnsCompany(companyID string) bool {
	return p.Role == RoleCompany && p.CompanyID != "" && p.CompanyID == companyID
}

// Resolver maps a verified subject id to a Principal.
type Resolver interface {
	ResolvePrincipal(ctx context.Context, subjectID string) (Principal, error)
}

var (
	// ErrNotRegistered is returned when a verified subject has no user row.
	ErrNotRegistered = apperr.New(apperr.KindForbidden, apperr.ComponentAuth, 1, "auth.not_registered", "user is not registered")
	// ErrForbidden is returned when the principal lacks the required role.
	ErrForbidden = apperr.New(apperr.KindForbidden, apperr.ComponentAuth, 2, "auth.forbidden", "insufficient role")
	// ErrUnauthenticated is returned when no principal is attached.
	ErrUnauthenticated = apperr.New(apperr.KindUnauthorized, apperr.ComponentAuth, 3, "auth.no_token", "authentication required")
)
