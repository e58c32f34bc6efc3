package storage

import (
	"context"
	"fmt"

	"prism-board/domain"
)

// AddComment is open to every board participant, viewers included.
func (s *Store) AddComment(ctx context.Context, userID, cardID, text string) (domain.Comment, error) {
	text, err := domain.ValidateComment(text)
	if err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{ID: s.newID(), CardID: cardID, AuthorID: userID, Text: text, CreatedAt: s.now()}
	err = s.mutate(ctx, userID, func(tx *Tx) error {
		_, boardID, err := tx.CardLocation(ctx, cardID)
		if err != nil {
			return err
		}
		if err := tx.require(ctx, boardID, userID, domain.ActionComment); err != nil {
			return err
		}
		if _, err := tx.tx.ExecContext(ctx,
			`INSERT INTO comments (id, card_id, author_id, text, created_at) VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.CardID, c.AuthorID, c.Text, toMillis(c.CreatedAt)); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		tx.Emit(boardID, domain.NewCommentCreated(cardID))
		return nil
	})
	if err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// DeleteComment lets authors delete their own comments and moderators any
// comment on the board.
func (s *Store) DeleteComment(ctx context.Context, userID, cardID, commentID string) error {
	return s.mutate(ctx, userID, func(tx *Tx) error {
		_, boardID, err := tx.CardLocation(ctx, cardID)
		if err != nil {
			return err
		}
		access, err := tx.Access(ctx, boardID, userID)
		if err != nil {
			return err
		}
		if err := access.Require(domain.ActionView); err != nil {
			return err
		}
		var authorID string
		if err := tx.tx.QueryRowContext(ctx,
			`SELECT author_id FROM comments WHERE id = ? AND card_id = ?`, commentID, cardID).Scan(&authorID); err != nil {
			return notFound(err, "comment")
		}
		if authorID != userID {
			if err := access.Require(domain.ActionModerateComments); err != nil {
				return err
			}
		}
		if _, err := tx.tx.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, commentID); err != nil {
			return fmt.Errorf("delete comment: %w", err)
		}
		tx.Emit(boardID, domain.NewCommentDeleted(cardID))
		return nil
	})
}

// ListComments returns the card's comments oldest first.
func (s *Store) ListComments(ctx context.Context, userID, cardID string) ([]domain.Comment, error) {
	var boardID string
	err := s.db.QueryRowContext(ctx,
		`SELECT l.board_id FROM cards c JOIN lists l ON l.id = c.list_id WHERE c.id = ?`, cardID).Scan(&boardID)
	if err != nil {
		return nil, notFound(err, "card")
	}
	access, err := s.BoardAccess(ctx, boardID, userID)
	if err != nil {
		return nil, err
	}
	if err := access.Require(domain.ActionView); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, author_id, text, created_at FROM comments WHERE card_id = ? ORDER BY created_at, id`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()
	comments := []domain.Comment{}
	for rows.Next() {
		c := domain.Comment{CardID: cardID}
		var created int64
		if err := rows.Scan(&c.ID, &c.AuthorID, &c.Text, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = fromMillis(created)
		comments = append(comments, c)
	}
	return comments, rows.Err()
}
