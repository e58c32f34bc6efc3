package domain

import (
	"fmt"
	"strings"
)

// Role is the membership level of a non-owner participant.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
	RoleViewer Role = "VIEWER"

	// RoleOwner is only ever reported, never stored on a member row.
	RoleOwner Role = "OWNER"
)

// ParseRole accepts the assignable roles, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleMember, RoleViewer:
		return r, nil
	default:
		return "", fmt.Errorf("%w: invalid role %q", ErrValidation, s)
	}
}

// Action is something a caller may attempt on a board.
type Action int

const (
	ActionView Action = iota
	ActionComment
	ActionEditContent
	ActionManageMembers
	ActionRenameBoard
	ActionModerateComments
	ActionDeleteBoard
)

var actionNames = map[Action]string{
	ActionView:             "view",
	ActionComment:          "comment",
	ActionEditContent:      "edit-content",
	ActionManageMembers:    "manage-members",
	ActionRenameBoard:      "rename-board",
	ActionModerateComments: "moderate-comments",
	ActionDeleteBoard:      "delete-board",
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// permissions is the role -> allowed actions table. The owner is handled
// separately in Can and holds every action.
var permissions = map[Role]map[Action]bool{
	RoleAdmin: {
		ActionView:             true,
		ActionComment:          true,
		ActionEditContent:      true,
		ActionManageMembers:    true,
		ActionRenameBoard:      true,
		ActionModerateComments: true,
	},
	RoleMember: {
		ActionView:        true,
		ActionComment:     true,
		ActionEditContent: true,
	},
	RoleViewer: {
		ActionView:    true,
		ActionComment: true,
	},
}

// Access describes how one user relates to one board.
type Access struct {
	BoardID string
	UserID  string
	IsOwner bool
	// Role is empty when the user is neither owner nor member.
	Role Role
}

// Visible reports whether the user may see the board at all.
func (a Access) Visible() bool {
	return a.IsOwner || a.Role != ""
}

// Can is a pure function of (isOwner, role, action).
func Can(isOwner bool, role Role, action Action) bool {
	if isOwner {
		return true
	}
	return permissions[role][action]
}

// Can reports whether the access grants action.
func (a Access) Can(action Action) bool {
	return Can(a.IsOwner, a.Role, action)
}

// Require returns nil when action is allowed. Callers that cannot see the
// board get ErrNotFound so the board's existence is not leaked.
func (a Access) Require(action Action) error {
	if !a.Visible() {
		return ErrNotFound
	}
	if !a.Can(action) {
		return fmt.Errorf("%w: %s requires more than %s", ErrForbidden, action, a.EffectiveRole())
	}
	return nil
}

// EffectiveRole reports OWNER for the owner and the member role otherwise.
func (a Access) EffectiveRole() Role {
	if a.IsOwner {
		return RoleOwner
	}
	return a.Role
}

// Permissions is the summary returned to clients for UI gating.
type Permissions struct {
	UserID           string `json:"userId"`
	IsOwner          bool   `json:"isOwner"`
	Role             Role   `json:"role,omitempty"`
	CanManageMembers bool   `json:"canManageMembers"`
	CanEditCards     bool   `json:"canEditCards"`
	CanDeleteBoard   bool   `json:"canDeleteBoard"`
}

func (a Access) Permissions() Permissions {
	return Permissions{
		UserID:           a.UserID,
		IsOwner:          a.IsOwner,
		Role:             a.EffectiveRole(),
		CanManageMembers: a.Can(ActionManageMembers),
		CanEditCards:     a.Can(ActionEditContent),
		CanDeleteBoard:   a.Can(ActionDeleteBoard),
	}
}
