package storage

import (
	"context"
	"fmt"

	"prism-board/domain"
)

// ListInput creates a list. A nil Index appends.
type ListInput struct {
	Title string
	Color string
	Index *int
}

// ListPatch updates the fields that are set.
type ListPatch struct {
	Title *string
	Color *string
}

func (s *Store) CreateList(ctx context.Context, userID, boardID string, in ListInput) (domain.List, error) {
	title, err := domain.ValidateTitle("title", in.Title)
	if err != nil {
		return domain.List{}, err
	}
	color, err := domain.ValidateListColor(in.Color)
	if err != nil {
		return domain.List{}, err
	}
	if color == "" {
		color = domain.ListColors[0]
	}
	l := domain.List{ID: s.newID(), BoardID: boardID, Title: title, Color: color, Cards: []domain.Card{}}
	err = s.mutate(ctx, userID, func(tx *Tx) error {
		if err := tx.require(ctx, boardID, userID, domain.ActionEditContent); err != nil {
			return err
		}
		siblings := tx.lists(boardID)
		if l.Position, err = tx.appendPosition(ctx, siblings); err != nil {
			return err
		}
		if _, err := tx.tx.ExecContext(ctx,
			`INSERT INTO lists (id, board_id, title, color, position) VALUES (?, ?, ?, ?, ?)`,
			l.ID, boardID, l.Title, l.Color, l.Position); err != nil {
			return fmt.Errorf("insert list: %w", err)
		}
		if in.Index != nil {
			if l.Position, err = tx.placeAt(ctx, siblings, l.ID, in.Index); err != nil {
				return err
			}
		}
		tx.Emit(boardID, domain.NewListCreated())
		return nil
	})
	if err != nil {
		return domain.List{}, err
	}
	return l, nil
}

func (s *Store) UpdateList(ctx context.Context, userID, listID string, p ListPatch) (domain.List, error) {
	if p.Title != nil {
		t, err := domain.ValidateTitle("title", *p.Title)
		if err != nil {
			return domain.List{}, err
		}
		p.Title = &t
	}
	if p.Color != nil {
		c, err := domain.ValidateListColor(*p.Color)
		if err != nil {
			return domain.List{}, err
		}
		if c == "" {
			c = domain.ListColors[0]
		}
		p.Color = &c
	}
	var l domain.List
	err := s.mutate(ctx, userID, func(tx *Tx) error {
		boardID, err := tx.ListBoard(ctx, listID)
		if err != nil {
			return err
		}
		if err := tx.require(ctx, boardID, userID, domain.ActionEditContent); err != nil {
			return err
		}
		if p.Title != nil {
			if _, err := tx.tx.ExecContext(ctx, `UPDATE lists SET title = ? WHERE id = ?`, *p.Title, listID); err != nil {
				return fmt.Errorf("update list: %w", err)
			}
		}
		if p.Color != nil {
			if _, err := tx.tx.ExecContext(ctx, `UPDATE lists SET color = ? WHERE id = ?`, *p.Color, listID); err != nil {
				return fmt.Errorf("update list: %w", err)
			}
		}
		l = domain.List{ID: listID, BoardID: boardID}
		if err := tx.tx.QueryRowContext(ctx, `SELECT title, color, position FROM lists WHERE id = ?`, listID).
			Scan(&l.Title, &l.Color, &l.Position); err != nil {
			return notFound(err, "list")
		}
		tx.Emit(boardID, domain.NewListUpdated())
		return nil
	})
	if err != nil {
		return domain.List{}, err
	}
	return l, nil
}

// DeleteList removes the list and its cards.
func (s *Store) DeleteList(ctx context.Context, userID, listID string) error {
	return s.mutate(ctx, userID, func(tx *Tx) error {
		boardID, err := tx.ListBoard(ctx, listID)
		if err != nil {
			return err
		}
		if err := tx.require(ctx, boardID, userID, domain.ActionEditContent); err != nil {
			return err
		}
		if _, err := tx.tx.ExecContext(ctx, `DELETE FROM lists WHERE id = ?`, listID); err != nil {
			return fmt.Errorf("delete list: %w", err)
		}
		tx.Emit(boardID, domain.NewListDeleted())
		return nil
	})
}

// ListLists returns the board's lists in display order, without cards.
func (s *Store) ListLists(ctx context.Context, userID, boardID string) ([]domain.List, error) {
	access, err := s.BoardAccess(ctx, boardID, userID)
	if err != nil {
		return nil, err
	}
	if err := access.Require(domain.ActionView); err != nil {
		return nil, err
	}
	return queryLists(ctx, s.db, boardID)
}
