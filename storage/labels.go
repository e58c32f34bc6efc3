package storage

import (
	"context"
	"fmt"

	"prism-board/domain"
)

// LabelPatch updates the fields that are set.
type LabelPatch struct {
	Name  *string
	Color *string
}

func (s *Store) CreateLabel(ctx context.Context, userID, boardID, name, color string) (domain.Label, error) {
	name, err := domain.ValidateTitle("name", name)
	if err != nil {
		return domain.Label{}, err
	}
	if err := domain.ValidateLabelColor(color); err != nil {
		return domain.Label{}, err
	}
	l := domain.Label{ID: s.newID(), BoardID: boardID, Name: name, Color: color}
	err = s.mutate(ctx, userID, func(tx *Tx) error {
		if err := tx.require(ctx, boardID, userID, domain.ActionEditContent); err != nil {
			return err
		}
		if _, err := tx.tx.ExecContext(ctx,
			`INSERT INTO labels (id, board_id, name, color) VALUES (?, ?, ?, ?)`,
			l.ID, l.BoardID, l.Name, l.Color); err != nil {
			return fmt.Errorf("insert label: %w", err)
		}
		tx.Emit(boardID, domain.NewLabelCreated())
		return nil
	})
	if err != nil {
		return domain.Label{}, err
	}
	return l, nil
}

// UpdateLabel announces the change as board:update since every card
// carrying the label renders differently.
func (s *Store) UpdateLabel(ctx context.Context, userID, labelID string, p LabelPatch) (domain.Label, error) {
	if p.Name != nil {
		n, err := domain.ValidateTitle("name", *p.Name)
		if err != nil {
			return domain.Label{}, err
		}
		p.Name = &n
	}
	if p.Color != nil {
		if err := domain.ValidateLabelColor(*p.Color); err != nil {
			return domain.Label{}, err
		}
	}
	l := domain.Label{ID: labelID}
	err := s.mutate(ctx, userID, func(tx *Tx) error {
		if err := tx.tx.QueryRowContext(ctx,
			`SELECT board_id, name, color FROM labels WHERE id = ?`, labelID).Scan(&l.BoardID, &l.Name, &l.Color); err != nil {
			return notFound(err, "label")
		}
		if err := tx.require(ctx, l.BoardID, userID, domain.ActionEditContent); err != nil {
			return err
		}
		if p.Name != nil {
			l.Name = *p.Name
		}
		if p.Color != nil {
			l.Color = *p.Color
		}
		if _, err := tx.tx.ExecContext(ctx,
			`UPDATE labels SET name = ?, color = ? WHERE id = ?`, l.Name, l.Color, labelID); err != nil {
			return fmt.Errorf("update label: %w", err)
		}
		tx.Emit(l.BoardID, domain.NewBoardUpdated())
		return nil
	})
	if err != nil {
		return domain.Label{}, err
	}
	return l, nil
}

func (s *Store) DeleteLabel(ctx context.Context, userID, labelID string) error {
	return s.mutate(ctx, userID, func(tx *Tx) error {
		var boardID string
		if err := tx.tx.QueryRowContext(ctx, `SELECT board_id FROM labels WHERE id = ?`, labelID).Scan(&boardID); err != nil {
			return notFound(err, "label")
		}
		if err := tx.require(ctx, boardID, userID, domain.ActionEditContent); err != nil {
			return err
		}
		if _, err := tx.tx.ExecContext(ctx, `DELETE FROM labels WHERE id = ?`, labelID); err != nil {
			return fmt.Errorf("delete label: %w", err)
		}
		tx.Emit(boardID, domain.NewBoardUpdated())
		return nil
	})
}

func (s *Store) ListLabels(ctx context.Context, userID, boardID string) ([]domain.Label, error) {
	access, err := s.BoardAccess(ctx, boardID, userID)
	if err != nil {
		return nil, err
	}
	if err := access.Require(domain.ActionView); err != nil {
		return nil, err
	}
	return queryLabels(ctx, s.db, boardID)
}
