// Package admin implements the operator plane: role resolution with
// bootstrap allowlists, audited session interventions and audit-log listing.
package admin

import (
	"strings"

	"github.com/tumbledice/backend/go/internal/v1/types"
)

// Role resolution sources.
const (
	RoleSourceBootstrap = "bootstrap"
	RoleSourceAssigned  = "assigned"
	RoleSourceNone      = "none"
)

var adminRoleLevels = map[types.AdminRole]int{
	types.AdminRoleViewer:   1,
	types.AdminRoleOperator: 2,
	types.AdminRoleOwner:    3,
}

// NormalizeAdminRole maps a raw string to a known role, case and whitespace
// insensitive. Empty result means unrecognized.
func NormalizeAdminRole(raw string) types.AdminRole {
	switch types.AdminRole(strings.ToLower(strings.TrimSpace(raw))) {
	case types.AdminRoleViewer:
		return types.AdminRoleViewer
	case types.AdminRoleOperator:
		return types.AdminRoleOperator
	case types.AdminRoleOwner:
		return types.AdminRoleOwner
	}
	return ""
}

// HasRequiredAdminRole compares role levels strictly: viewer < operator <
// owner. Unknown roles never qualify.
func HasRequiredAdminRole(actual, required types.AdminRole) bool {
	actualLevel, okActual := adminRoleLevels[actual]
	requiredLevel, okRequired := adminRoleLevels[required]
	return okActual && okRequired && actualLevel >= requiredLevel
}

// ResolvedRole is a role plus where it came from.
type ResolvedRole struct {
	Role   types.AdminRole `json:"role,omitempty"`
	Source string          `json:"source"`
}

// ResolveRoleForIdentity consults the bootstrap allowlists first, then the
// stored player record.
func (s *Service) ResolveRoleForIdentity(uid types.PlayerIdType, email string) ResolvedRole {
	if s.bootstrapUids[string(uid)] {
		return ResolvedRole{Role: types.AdminRoleOwner, Source: RoleSourceBootstrap}
	}
	if email != "" && s.bootstrapEmails[strings.ToLower(email)] {
		return ResolvedRole{Role: types.AdminRoleOwner, Source: RoleSourceBootstrap}
	}

	var stored types.AdminRole
	s.world.View(func(data *types.StoreData) {
		if player, okPlayer := data.Players[uid]; okPlayer {
			stored = player.AdminRole
		}
	})
	if stored != "" {
		return ResolvedRole{Role: stored, Source: RoleSourceAssigned}
	}
	return ResolvedRole{Source: RoleSourceNone}
}
