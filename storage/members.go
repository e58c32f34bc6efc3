package storage

import (
	"context"
	"fmt"
	"strings"

	"prism-board/domain"
)

func (s *Store) ListMembers(ctx context.Context, userID, boardID string) ([]domain.Member, error) {
	access, err := s.BoardAccess(ctx, boardID, userID)
	if err != nil {
		return nil, err
	}
	if err := access.Require(domain.ActionView); err != nil {
		return nil, err
	}
	return queryMembers(ctx, s.db, boardID)
}

// InviteMember adds the user registered under email with role (MEMBER when
// empty). Inviting the owner or an existing member is a conflict.
func (s *Store) InviteMember(ctx context.Context, userID, boardID, email string, role domain.Role) (domain.Member, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.Member{}, fmt.Errorf("%w: email is required", domain.ErrValidation)
	}
	if role == "" {
		role = domain.RoleMember
	}
	role, err := domain.ParseRole(string(role))
	if err != nil {
		return domain.Member{}, err
	}

	m := domain.Member{BoardID: boardID, Role: role, User: &domain.User{}}
	err = s.mutate(ctx, userID, func(tx *Tx) error {
		access, err := tx.Access(ctx, boardID, userID)
		if err != nil {
			return err
		}
		if err := access.Require(domain.ActionManageMembers); err != nil {
			return err
		}
		err = tx.tx.QueryRowContext(ctx, `SELECT id, name, email FROM users WHERE email = ?`, email).
			Scan(&m.User.ID, &m.User.Name, &m.User.Email)
		if err != nil {
			return notFound(err, "user")
		}
		m.UserID = m.User.ID
		target, err := tx.Access(ctx, boardID, m.UserID)
		if err != nil {
			return err
		}
		if target.Visible() {
			return fmt.Errorf("%w: user is already a member of the board", domain.ErrConflict)
		}
		if _, err := tx.tx.ExecContext(ctx,
			`INSERT INTO board_members (board_id, user_id, role) VALUES (?, ?, ?)`,
			boardID, m.UserID, string(role)); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: user is already a member of the board", domain.ErrConflict)
			}
			return fmt.Errorf("insert member: %w", err)
		}
		tx.Emit(boardID, domain.NewBoardUpdated())
		return nil
	})
	if err != nil {
		return domain.Member{}, err
	}
	return m, nil
}

// UpdateMemberRole changes a member's role. The owner's standing cannot be
// changed this way.
func (s *Store) UpdateMemberRole(ctx context.Context, userID, boardID, targetID string, role domain.Role) (domain.Member, error) {
	role, err := domain.ParseRole(string(role))
	if err != nil {
		return domain.Member{}, err
	}
	m := domain.Member{BoardID: boardID, UserID: targetID, Role: role, User: &domain.User{ID: targetID}}
	err = s.mutate(ctx, userID, func(tx *Tx) error {
		access, err := tx.Access(ctx, boardID, userID)
		if err != nil {
			return err
		}
		if err := access.Require(domain.ActionManageMembers); err != nil {
			return err
		}
		if target, err := tx.Access(ctx, boardID, targetID); err == nil && target.IsOwner {
			return fmt.Errorf("%w: cannot change the role of the board owner", domain.ErrForbidden)
		}
		res, err := tx.tx.ExecContext(ctx,
			`UPDATE board_members SET role = ? WHERE board_id = ? AND user_id = ?`,
			string(role), boardID, targetID)
		if err != nil {
			return fmt.Errorf("update member: %w", err)
		}
		if err := requireAffected(res, "member"); err != nil {
			return err
		}
		if err := tx.tx.QueryRowContext(ctx, `SELECT name, email FROM users WHERE id = ?`, targetID).
			Scan(&m.User.Name, &m.User.Email); err != nil {
			return notFound(err, "user")
		}
		tx.Emit(boardID, domain.NewBoardUpdated())
		return nil
	})
	if err != nil {
		return domain.Member{}, err
	}
	return m, nil
}

// RemoveMember removes targetID from the board and unassigns them from its
// cards. Members may remove themselves; removing others needs
// ActionManageMembers. The owner cannot be removed.
func (s *Store) RemoveMember(ctx context.Context, userID, boardID, targetID string) error {
	return s.mutate(ctx, userID, func(tx *Tx) error {
		access, err := tx.Access(ctx, boardID, userID)
		if err != nil {
			return err
		}
		if err := access.Require(domain.ActionView); err != nil {
			return err
		}
		if access.IsOwner && targetID == userID {
			return fmt.Errorf("%w: the owner cannot be removed", domain.ErrForbidden)
		}
		if targetID != userID {
			if err := access.Require(domain.ActionManageMembers); err != nil {
				return err
			}
			if target, err := tx.Access(ctx, boardID, targetID); err == nil && target.IsOwner {
				return fmt.Errorf("%w: the owner cannot be removed", domain.ErrForbidden)
			}
		}
		res, err := tx.tx.ExecContext(ctx,
			`DELETE FROM board_members WHERE board_id = ? AND user_id = ?`, boardID, targetID)
		if err != nil {
			return fmt.Errorf("delete member: %w", err)
		}
		if err := requireAffected(res, "member"); err != nil {
			return err
		}
		if _, err := tx.tx.ExecContext(ctx,
			`DELETE FROM card_assignees
			  WHERE user_id = ?
			    AND card_id IN (SELECT c.id FROM cards c JOIN lists l ON l.id = c.list_id WHERE l.board_id = ?)`,
			targetID, boardID); err != nil {
			return fmt.Errorf("unassign member: %w", err)
		}
		tx.Emit(boardID, domain.NewBoardUpdated())
		return nil
	})
}
