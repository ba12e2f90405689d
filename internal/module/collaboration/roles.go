package collaboration

import "github.com/todoflow/server/internal/model"

// Permission is a team action gated by role.
type Permission int

const (
	PermView Permission = iota
	PermEdit
	PermInvite
	PermRemoveMember
	PermUpdateRole
	PermUpdateTeam
	PermDeleteTeam
)

var levels = map[model.TeamRole]int{
	model.TeamRoleOwner:  100,
	model.TeamRoleAdmin:  75,
	model.TeamRoleEditor: 50,
	model.TeamRoleViewer: 25,
}

// minimumRole is the lowest role holding each permission.
var minimumRole = map[Permission]model.TeamRole{
	PermView:         model.TeamRoleViewer,
	PermEdit:         model.TeamRoleEditor,
	PermInvite:       model.TeamRoleAdmin,
	PermRemoveMember: model.TeamRoleAdmin,
	PermUpdateRole:   model.TeamRoleAdmin,
	PermUpdateTeam:   model.TeamRoleAdmin,
	PermDeleteTeam:   model.TeamRoleOwner,
}

// Level ranks r; unknown roles rank 0.
func Level(r model.TeamRole) int {
	return levels[r]
}

// IsAtLeast reports whether r ranks at or above other.
func IsAtLeast(r, other model.TeamRole) bool {
	return Level(r) >= Level(other)
}

// HasPermission reports whether r may perform perm.
func HasPermission(r model.TeamRole, perm Permission) bool {
	least, ok := minimumRole[perm]
	return ok && r.IsValid() && IsAtLeast(r, least)
}

// CanAssign reports whether a member holding r may give target to someone
// else. Only owners and admins assign roles and nobody assigns owner.
func CanAssign(r, target model.TeamRole) bool {
	return HasPermission(r, PermUpdateRole) && IsValidInviteRole(target)
}

// IsValidInviteRole reports whether r can be granted by an invitation.
func IsValidInviteRole(r model.TeamRole) bool {
	return r.IsValid() && r != model.TeamRoleOwner
}
