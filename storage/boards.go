package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"prism-board/domain"
)

// EnsureUser creates or refreshes the profile the identity collaborator
// vouches for. Empty fields never overwrite stored ones.
func (s *Store) EnsureUser(ctx context.Context, u domain.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	email := strings.ToLower(strings.TrimSpace(u.Email))
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE users.name END,
		   email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE users.email END`,
		u.ID, strings.TrimSpace(u.Name), email, toMillis(s.now()),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: email already in use", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx, `SELECT id, name, email FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Email)
	if err != nil {
		return domain.User{}, notFound(err, "user")
	}
	return u, nil
}

// CreateBoard makes userID the owner of a new board. Nobody can be
// subscribed to it yet, so nothing is emitted.
func (s *Store) CreateBoard(ctx context.Context, userID, name string) (domain.Board, error) {
	name, err := domain.ValidateTitle("name", name)
	if err != nil {
		return domain.Board{}, err
	}
	now := s.now()
	b := domain.Board{
		ID:        s.newID(),
		Name:      name,
		OwnerID:   userID,
		Members:   []domain.Member{},
		Lists:     []domain.List{},
		Labels:    []domain.Label{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.mutate(ctx, userID, func(tx *Tx) error {
		if _, err := tx.tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO users (id, created_at) VALUES (?, ?)`, userID, toMillis(now)); err != nil {
			return fmt.Errorf("ensure owner: %w", err)
		}
		_, err := tx.tx.ExecContext(ctx,
			`INSERT INTO boards (id, name, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			b.ID, b.Name, b.OwnerID, toMillis(now), toMillis(now))
		if err != nil {
			return fmt.Errorf("insert board: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Board{}, err
	}
	return b, nil
}

// ListBoards returns every board userID owns or is a member of, with the
// owner's profile and without nested content.
func (s *Store) ListBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT b.id, b.name, b.owner_id, b.created_at, b.updated_at, u.name, u.email
		   FROM boards b
		   JOIN users u ON u.id = b.owner_id
		  WHERE b.owner_id = ?1
		     OR EXISTS (SELECT 1 FROM board_members m WHERE m.board_id = b.id AND m.user_id = ?1)
		  ORDER BY b.updated_at DESC, b.id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()
	boards := []domain.Board{}
	for rows.Next() {
		var b domain.Board
		var created, updated int64
		owner := &domain.User{}
		if err := rows.Scan(&b.ID, &b.Name, &b.OwnerID, &created, &updated, &owner.Name, &owner.Email); err != nil {
			return nil, err
		}
		owner.ID = b.OwnerID
		b.Owner = owner
		b.CreatedAt, b.UpdatedAt = fromMillis(created), fromMillis(updated)
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

func (s *Store) UpdateBoard(ctx context.Context, userID, boardID, name string) (domain.Board, error) {
	name, err := domain.ValidateTitle("name", name)
	if err != nil {
		return domain.Board{}, err
	}
	var b domain.Board
	err = s.mutate(ctx, userID, func(tx *Tx) error {
		if err := tx.require(ctx, boardID, userID, domain.ActionRenameBoard); err != nil {
			return err
		}
		now := s.now()
		if _, err := tx.tx.ExecContext(ctx,
			`UPDATE boards SET name = ?, updated_at = ? WHERE id = ?`, name, toMillis(now), boardID); err != nil {
			return fmt.Errorf("rename board: %w", err)
		}
		var created int64
		if err := tx.tx.QueryRowContext(ctx,
			`SELECT owner_id, created_at FROM boards WHERE id = ?`, boardID).Scan(&b.OwnerID, &created); err != nil {
			return notFound(err, "board")
		}
		b.ID, b.Name, b.CreatedAt, b.UpdatedAt = boardID, name, fromMillis(created), now
		tx.Emit(boardID, domain.NewBoardUpdated())
		return nil
	})
	if err != nil {
		return domain.Board{}, err
	}
	return b, nil
}

// DeleteBoard removes the board and, by cascade, everything it owns.
// Subscribers get a board:update and find the board gone on refetch.
func (s *Store) DeleteBoard(ctx context.Context, userID, boardID string) error {
	return s.mutate(ctx, userID, func(tx *Tx) error {
		if err := tx.require(ctx, boardID, userID, domain.ActionDeleteBoard); err != nil {
			return err
		}
		if _, err := tx.tx.ExecContext(ctx, `DELETE FROM boards WHERE id = ?`, boardID); err != nil {
			return fmt.Errorf("delete board: %w", err)
		}
		tx.Emit(boardID, domain.NewBoardUpdated())
		return nil
	})
}

// require loads userID's access to boardID and checks action.
func (t *Tx) require(ctx context.Context, boardID, userID string, action domain.Action) error {
	access, err := t.Access(ctx, boardID, userID)
	if err != nil {
		return err
	}
	return access.Require(action)
}

// GetBoard returns the nested snapshot of a board userID can see.
func (s *Store) GetBoard(ctx context.Context, userID, boardID string) (domain.Board, error) {
	access, err := s.BoardAccess(ctx, boardID, userID)
	if err != nil {
		return domain.Board{}, err
	}
	if err := access.Require(domain.ActionView); err != nil {
		return domain.Board{}, err
	}
	return s.Snapshot(ctx, boardID)
}

// Snapshot reads the full board tree without an access check: members,
// labels, lists and their cards, ordered by position then id.
func (s *Store) Snapshot(ctx context.Context, boardID string) (domain.Board, error) {
	var b domain.Board
	var created, updated int64
	owner := &domain.User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT b.id, b.name, b.owner_id, b.created_at, b.updated_at, u.name, u.email
		   FROM boards b JOIN users u ON u.id = b.owner_id
		  WHERE b.id = ?`, boardID,
	).Scan(&b.ID, &b.Name, &b.OwnerID, &created, &updated, &owner.Name, &owner.Email)
	if err != nil {
		return domain.Board{}, notFound(err, "board")
	}
	owner.ID = b.OwnerID
	b.Owner = owner
	b.CreatedAt, b.UpdatedAt = fromMillis(created), fromMillis(updated)

	if b.Members, err = queryMembers(ctx, s.db, boardID); err != nil {
		return domain.Board{}, err
	}
	if b.Labels, err = queryLabels(ctx, s.db, boardID); err != nil {
		return domain.Board{}, err
	}
	if b.Lists, err = queryLists(ctx, s.db, boardID); err != nil {
		return domain.Board{}, err
	}
	cards, err := queryCards(ctx, s.db,
		`JOIN lists l ON l.id = c.list_id WHERE l.board_id = ?`, boardID)
	if err != nil {
		return domain.Board{}, err
	}
	byList := make(map[string]int, len(b.Lists))
	for i := range b.Lists {
		byList[b.Lists[i].ID] = i
	}
	for _, c := range cards {
		if i, ok := byList[c.ListID]; ok {
			b.Lists[i].Cards = append(b.Lists[i].Cards, c)
		}
	}
	return b, nil
}

func queryMembers(ctx context.Context, q querier, boardID string) ([]domain.Member, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT m.user_id, m.role, u.name, u.email
		   FROM board_members m JOIN users u ON u.id = m.user_id
		  WHERE m.board_id = ?
		  ORDER BY u.name, m.user_id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	members := []domain.Member{}
	for rows.Next() {
		m := domain.Member{BoardID: boardID, User: &domain.User{}}
		if err := rows.Scan(&m.UserID, &m.Role, &m.User.Name, &m.User.Email); err != nil {
			return nil, err
		}
		m.User.ID = m.UserID
		members = append(members, m)
	}
	return members, rows.Err()
}

func queryLists(ctx context.Context, q querier, boardID string) ([]domain.List, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, title, color, position FROM lists WHERE board_id = ? ORDER BY position, id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()
	lists := []domain.List{}
	for rows.Next() {
		l := domain.List{BoardID: boardID, Cards: []domain.Card{}}
		if err := rows.Scan(&l.ID, &l.Title, &l.Color, &l.Position); err != nil {
			return nil, err
		}
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

// queryCards selects cards (aliased c) with the given join/where clause and
// fills their label and assignee sets.
func queryCards(ctx context.Context, q querier, clause string, args ...any) ([]domain.Card, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT c.id, c.list_id, c.title, c.description, c.start_date, c.due_date, c.position, c.created_at, c.updated_at
		   FROM cards c `+clause+`
		  ORDER BY c.position, c.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	cards := []domain.Card{}
	for rows.Next() {
		var c domain.Card
		var start, due sql.NullInt64
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.ListID, &c.Title, &c.Description, &start, &due, &c.Position, &created, &updated); err != nil {
			rows.Close()
			return nil, err
		}
		c.StartDate, c.DueDate = timePtr(start), timePtr(due)
		c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
		c.LabelIDs, c.AssigneeIDs = []string{}, []string{}
		cards = append(cards, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return cards, nil
	}

	index := make(map[string]int, len(cards))
	for i := range cards {
		index[cards[i].ID] = i
	}
	attach := func(query string, add func(c *domain.Card, id string)) error {
		rows, err := q.QueryContext(ctx, query+` WHERE x.card_id IN (SELECT c.id FROM cards c `+clause+`) ORDER BY x.card_id, 2`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var cardID, id string
			if err := rows.Scan(&cardID, &id); err != nil {
				return err
			}
			if i, ok := index[cardID]; ok {
				add(&cards[i], id)
			}
		}
		return rows.Err()
	}
	if err := attach(`SELECT x.card_id, x.label_id FROM card_labels x`, func(c *domain.Card, id string) {
		c.LabelIDs = append(c.LabelIDs, id)
	}); err != nil {
		return nil, fmt.Errorf("card labels: %w", err)
	}
	if err := attach(`SELECT x.card_id, x.user_id FROM card_assignees x`, func(c *domain.Card, id string) {
		c.AssigneeIDs = append(c.AssigneeIDs, id)
	}); err != nil {
		return nil, fmt.Errorf("card assignees: %w", err)
	}
	return cards, nil
}

func queryLabels(ctx context.Context, q querier, boardID string) ([]domain.Label, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, color FROM labels WHERE board_id = ? ORDER BY name, id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()
	labels := []domain.Label{}
	for rows.Next() {
		l := domain.Label{BoardID: boardID}
		if err := rows.Scan(&l.ID, &l.Name, &l.Color); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}
