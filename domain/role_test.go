package domain

import (
	"errors"
	"testing"
)

func TestCanTable(t *testing.T) {
	tests := []struct {
		name    string
		isOwner bool
		role    Role
		action  Action
		want    bool
	}{
		{"owner deletes board", true, "", ActionDeleteBoard, true},
		{"admin cannot delete board", false, RoleAdmin, ActionDeleteBoard, false},
		{"admin manages members", false, RoleAdmin, ActionManageMembers, true},
		{"member edits content", false, RoleMember, ActionEditContent, true},
		{"member cannot manage members", false, RoleMember, ActionManageMembers, false},
		{"viewer comments", false, RoleViewer, ActionComment, true},
		{"viewer cannot edit", false, RoleViewer, ActionEditContent, false},
		{"stranger cannot view", false, "", ActionView, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Can(tt.isOwner, tt.role, tt.action); got != tt.want {
				t.Fatalf("Can(%v, %q, %s) = %v, want %v", tt.isOwner, tt.role, tt.action, got, tt.want)
			}
		})
	}
}

func TestRequireHidesInvisibleBoards(t *testing.T) {
	err := Access{BoardID: "b1", UserID: "u1"}.Require(ActionView)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	err = Access{BoardID: "b1", UserID: "u1", Role: RoleViewer}.Require(ActionEditContent)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestPermissionsSummary(t *testing.T) {
	p := Access{UserID: "u1", IsOwner: true}.Permissions()
	if p.Role != RoleOwner || !p.CanDeleteBoard || !p.CanManageMembers || !p.CanEditCards {
		t.Fatalf("unexpected owner permissions %+v", p)
	}
	p = Access{UserID: "u2", Role: RoleMember}.Permissions()
	if p.Role != RoleMember || p.CanDeleteBoard || p.CanManageMembers || !p.CanEditCards {
		t.Fatalf("unexpected member permissions %+v", p)
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole("admin"); err != nil || r != RoleAdmin {
		t.Fatalf("expected ADMIN, got %q %v", r, err)
	}
	if _, err := ParseRole("OWNER"); !errors.Is(err, ErrValidation) {
		t.Fatalf("owner must not be assignable, got %v", err)
	}
}
