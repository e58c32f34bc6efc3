package storage

import (
	"context"
	"fmt"
	"time"

	"prism-board/domain"
)

// CardInput creates a card in ListID. A nil Index appends.
type CardInput struct {
	ListID      string
	Title       string
	Description string
	StartDate   *time.Time
	DueDate     *time.Time
	LabelIDs    []string
	AssigneeIDs []string
	Index       *int
}

// DateUpdate sets a date, or clears it when Value is nil.
type DateUpdate struct {
	Value *time.Time
}

// CardPatch updates the fields that are set. LabelIDs and AssigneeIDs
// replace the whole set.
type CardPatch struct {
	Title       *string
	Description *string
	StartDate   *DateUpdate
	DueDate     *DateUpdate
	LabelIDs    *[]string
	AssigneeIDs *[]string
}

func (s *Store) CreateCard(ctx context.Context, userID string, in CardInput) (domain.Card, error) {
	title, err := domain.ValidateTitle("title", in.Title)
	if err != nil {
		return domain.Card{}, err
	}
	if err := domain.ValidateDescription(in.Description); err != nil {
		return domain.Card{}, err
	}
	if err := validateDates(in.StartDate, in.DueDate); err != nil {
		return domain.Card{}, err
	}
	now := s.now()
	c := domain.Card{
		ID:          s.newID(),
		ListID:      in.ListID,
		Title:       title,
		Description: in.Description,
		StartDate:   in.StartDate,
		DueDate:     in.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.mutate(ctx, userID, func(tx *Tx) error {
		boardID, err := tx.ListBoard(ctx, in.ListID)
		if err != nil {
			return err
		}
		if err := tx.require(ctx, boardID, userID, domain.ActionEditContent); err != nil {
			return err
		}
		siblings := tx.cards(in.ListID)
		if c.Position, err = tx.appendPosition(ctx, siblings); err != nil {
			return err
		}
		if _, err := tx.tx.ExecContext(ctx,
			`INSERT INTO cards (id, list_id, title, description, start_date, due_date, position, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.ListID, c.Title, c.Description, nullMillis(c.StartDate), nullMillis(c.DueDate),
			c.Position, toMillis(now), toMillis(now)); err != nil {
			return fmt.Errorf("insert card: %w", err)
		}
		if in.Index != nil {
			if c.Position, err = tx.placeAt(ctx, siblings, c.ID, in.Index); err != nil {
				return err
			}
		}
		if c.LabelIDs, err = tx.setCardLabels(ctx, boardID, c.ID, in.LabelIDs); err != nil {
			return err
		}
		if c.AssigneeIDs, err = tx.setCardAssignees(ctx, boardID, c.ID, in.AssigneeIDs); err != nil {
			return err
		}
		tx.Emit(boardID, domain.NewCardCreated(c.ListID))
		return nil
	})
	if err != nil {
		return domain.Card{}, err
	}
	return c, nil
}

func (s *Store) UpdateCard(ctx context.Context, userID, cardID string, p CardPatch) (domain.Card, error) {
	if p.Title != nil {
		t, err := domain.ValidateTitle("title", *p.Title)
		if err != nil {
			return domain.Card{}, err
		}
		p.Title = &t
	}
	if p.Description != nil {
		if err := domain.ValidateDescription(*p.Description); err != nil {
			return domain.Card{}, err
		}
	}
	var c domain.Card
	err := s.mutate(ctx, userID, func(tx *Tx) error {
		_, boardID, err := tx.CardLocation(ctx, cardID)
		if err != nil {
			return err
		}
		if err := tx.require(ctx, boardID, userID, domain.ActionEditContent); err != nil {
			return err
		}
		now := toMillis(s.now())
		set := func(column string, value any) error {
			_, err := tx.tx.ExecContext(ctx,
				`UPDATE cards SET `+column+` = ?, updated_at = ? WHERE id = ?`, value, now, cardID)
			if err != nil {
				return fmt.Errorf("update card %s: %w", column, err)
			}
			return nil
		}
		if p.Title != nil {
			if err := set("title", *p.Title); err != nil {
				return err
			}
		}
		if p.Description != nil {
			if err := set("description", *p.Description); err != nil {
				return err
			}
		}
		if p.StartDate != nil {
			if err := set("start_date", nullMillis(p.StartDate.Value)); err != nil {
				return err
			}
		}
		if p.DueDate != nil {
			if err := set("due_date", nullMillis(p.DueDate.Value)); err != nil {
				return err
			}
		}
		if p.LabelIDs != nil {
			if _, err := tx.setCardLabels(ctx, boardID, cardID, *p.LabelIDs); err != nil {
				return err
			}
		}
		if p.AssigneeIDs != nil {
			if _, err := tx.setCardAssignees(ctx, boardID, cardID, *p.AssigneeIDs); err != nil {
				return err
			}
		}
		cards, err := queryCards(ctx, tx.tx, `WHERE c.id = ?`, cardID)
		if err != nil {
			return err
		}
		if len(cards) == 0 {
			return fmt.Errorf("%w: card", domain.ErrNotFound)
		}
		c = cards[0]
		if err := validateDates(c.StartDate, c.DueDate); err != nil {
			return err
		}
		tx.Emit(boardID, domain.NewCardUpdated(cardID))
		return nil
	})
	if err != nil {
		return domain.Card{}, err
	}
	return c, nil
}

func (s *Store) DeleteCard(ctx context.Context, userID, cardID string) error {
	return s.mutate(ctx, userID, func(tx *Tx) error {
		_, boardID, err := tx.CardLocation(ctx, cardID)
		if err != nil {
			return err
		}
		if err := tx.require(ctx, boardID, userID, domain.ActionEditContent); err != nil {
			return err
		}
		if _, err := tx.tx.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, cardID); err != nil {
			return fmt.Errorf("delete card: %w", err)
		}
		tx.Emit(boardID, domain.NewCardDeleted(cardID))
		return nil
	})
}

func (s *Store) GetCard(ctx context.Context, userID, cardID string) (domain.Card, error) {
	var boardID string
	err := s.db.QueryRowContext(ctx,
		`SELECT l.board_id FROM cards c JOIN lists l ON l.id = c.list_id WHERE c.id = ?`, cardID).Scan(&boardID)
	if err != nil {
		return domain.Card{}, notFound(err, "card")
	}
	access, err := s.BoardAccess(ctx, boardID, userID)
	if err != nil {
		return domain.Card{}, err
	}
	if err := access.Require(domain.ActionView); err != nil {
		return domain.Card{}, err
	}
	cards, err := queryCards(ctx, s.db, `WHERE c.id = ?`, cardID)
	if err != nil {
		return domain.Card{}, err
	}
	if len(cards) == 0 {
		return domain.Card{}, fmt.Errorf("%w: card", domain.ErrNotFound)
	}
	return cards[0], nil
}

// AttachLabel puts a label of the card's board on the card. Attaching twice
// is not an error.
func (s *Store) AttachLabel(ctx context.Context, userID, cardID, labelID string) error {
	return s.cardLabel(ctx, userID, cardID, labelID,
		`INSERT OR IGNORE INTO card_labels (card_id, label_id) VALUES (?, ?)`)
}

func (s *Store) DetachLabel(ctx context.Context, userID, cardID, labelID string) error {
	return s.cardLabel(ctx, userID, cardID, labelID,
		`DELETE FROM card_labels WHERE card_id = ? AND label_id = ?`)
}

func (s *Store) cardLabel(ctx context.Context, userID, cardID, labelID, stmt string) error {
	return s.mutate(ctx, userID, func(tx *Tx) error {
		_, boardID, err := tx.CardLocation(ctx, cardID)
		if err != nil {
			return err
		}
		if err := tx.require(ctx, boardID, userID, domain.ActionEditContent); err != nil {
			return err
		}
		if err := tx.requireLabelsOnBoard(ctx, boardID, []string{labelID}); err != nil {
			return err
		}
		if _, err := tx.tx.ExecContext(ctx, stmt, cardID, labelID); err != nil {
			return fmt.Errorf("card label: %w", err)
		}
		tx.Emit(boardID, domain.NewCardUpdated(cardID))
		return nil
	})
}

func (t *Tx) setCardLabels(ctx context.Context, boardID, cardID string, ids []string) ([]string, error) {
	ids = dedupe(ids)
	if err := t.requireLabelsOnBoard(ctx, boardID, ids); err != nil {
		return nil, err
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM card_labels WHERE card_id = ?`, cardID); err != nil {
		return nil, fmt.Errorf("clear card labels: %w", err)
	}
	for _, id := range ids {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO card_labels (card_id, label_id) VALUES (?, ?)`, cardID, id); err != nil {
			return nil, fmt.Errorf("set card label: %w", err)
		}
	}
	return ids, nil
}

// setCardAssignees replaces the assignees; each must be the owner or a
// member of the board.
func (t *Tx) setCardAssignees(ctx context.Context, boardID, cardID string, ids []string) ([]string, error) {
	ids = dedupe(ids)
	for _, id := range ids {
		a, err := t.Access(ctx, boardID, id)
		if err != nil {
			return nil, err
		}
		if !a.Visible() {
			return nil, fmt.Errorf("%w: assignee %s is not on the board", domain.ErrValidation, id)
		}
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM card_assignees WHERE card_id = ?`, cardID); err != nil {
		return nil, fmt.Errorf("clear card assignees: %w", err)
	}
	for _, id := range ids {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO card_assignees (card_id, user_id) VALUES (?, ?)`, cardID, id); err != nil {
			return nil, fmt.Errorf("set card assignee: %w", err)
		}
	}
	return ids, nil
}

func (t *Tx) requireLabelsOnBoard(ctx context.Context, boardID string, ids []string) error {
	for _, id := range ids {
		var labelBoard string
		if err := t.tx.QueryRowContext(ctx, `SELECT board_id FROM labels WHERE id = ?`, id).Scan(&labelBoard); err != nil {
			return notFound(err, "label")
		}
		if labelBoard != boardID {
			return fmt.Errorf("%w: label %s belongs to another board", domain.ErrValidation, id)
		}
	}
	return nil
}

func validateDates(start, due *time.Time) error {
	if start != nil && due != nil && due.Before(*start) {
		return fmt.Errorf("%w: due date before start date", domain.ErrValidation)
	}
	return nil
}

func dedupe(ids []string) []string {
	out := []string{}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
