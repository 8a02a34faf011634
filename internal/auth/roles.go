package auth

import "strings"

// The role set is closed and agreed at compile time. Routes never compare
// against ad hoc string literals; authorization lists are built from these
// constants (see CREWDESK_ISSUER_ROLES).
const (
	RoleAdmin     = "admin"
	RoleManager   = "manager"
	RoleQRManager = "qr-manager"
	RoleStaff     = "staff"
)

var knownRoles = map[string]struct{}{
	RoleAdmin:     {},
	RoleManager:   {},
	RoleQRManager: {},
	RoleStaff:     {},
}

// KnownRole reports whether the (normalized) role is part of the closed set.
func KnownRole(role string) bool {
	_, ok := knownRoles[strings.TrimSpace(strings.ToLower(role))]
	return ok
}

// DefaultIssuerRoles is the default set allowed to issue and rotate QR tokens.
func DefaultIssuerRoles() []string {
	return []string{RoleAdmin, RoleManager, RoleQRManager}
}

// NormalizeRoles lower-cases, trims and deduplicates while preserving order.
func NormalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}

// ParseRoleList parses a comma-separated configuration value, dropping
// unknown entries. An empty result falls back to DefaultIssuerRoles.
func ParseRoleList(raw string) []string {
	var roles []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" || !KnownRole(part) {
			continue
		}
		roles = append(roles, part)
	}
	if len(roles) == 0 {
		return DefaultIssuerRoles()
	}
	return NormalizeRoles(roles)
}
