// Package storage persists boards in SQLite and hosts the secondary stores
// that hang off committed changes: the redis snapshot cache, the Azure
// table activity log and the Azure queue event export.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"prism-board/domain"
	"prism-board/ordering"
	"prism-board/storage/migrations"
)

// CommitHook receives the events of a committed transaction in emission
// order. It runs after the commit and before Update returns. Calls touching
// the same board arrive in commit order; calls for unrelated boards may run
// concurrently.
type CommitHook func(ctx context.Context, events []domain.BoardEvent)

// Store is the transactional board store.
type Store struct {
	db     *sql.DB
	logger *log.Logger
	alloc  ordering.Allocator
	now    func() time.Time
	newID  func() string

	// commitMu orders commits and the tickets of their hook calls. The
	// hook itself runs outside it, sequenced per board.
	commitMu sync.Mutex
	hook     CommitHook
	hookSeq  *hookSequencer
}

type Option func(*Store)

// WithAllocator sets the allocator used by the create paths.
func WithAllocator(a ordering.Allocator) Option { return func(s *Store) { s.alloc = a } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// Open opens the SQLite database at path and applies the embedded
// migrations. Write transactions take the database lock at BEGIN.
func Open(ctx context.Context, path string, logger *log.Logger, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		panic("storage.Open: logger is nil")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	s := &Store{
		db:     db,
		logger: logger,
		alloc:  ordering.DefaultAllocator,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,

		hookSeq: newHookSequencer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetCommitHook installs the post-commit hook. It replaces any earlier hook.
func (s *Store) SetCommitHook(h CommitHook) {
	s.commitMu.Lock()
	s.hook = h
	s.commitMu.Unlock()
}

// Update runs fn in one write transaction. Events fn emits reach the commit
// hook only if the transaction commits. The transaction is detached from
// ctx cancellation: once begun it commits or rolls back as a whole.
func (s *Store) Update(ctx context.Context, fn func(*Tx) error) error {
	ctx = context.WithoutCancel(ctx)
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &Tx{tx: sqlTx, store: s, actor: domain.ActorFromContext(ctx)}
	if err := fn(tx); err != nil {
		return err
	}

	s.commitMu.Lock()
	if err := sqlTx.Commit(); err != nil {
		s.commitMu.Unlock()
		return fmt.Errorf("commit: %w", err)
	}
	hook := s.hook
	if hook == nil || len(tx.events) == 0 {
		s.commitMu.Unlock()
		return nil
	}
	turn := s.hookSeq.take(tx.events)
	s.commitMu.Unlock()

	s.hookSeq.wait(turn)
	defer s.hookSeq.done(turn)
	hook(ctx, tx.events)
	return nil
}

// Reorder adapts Update to the ordering coordinator.
func (s *Store) Reorder(ctx context.Context, fn func(ordering.Tx) error) error {
	return s.Update(ctx, func(tx *Tx) error { return fn(tx) })
}

func (s *Store) mutate(ctx context.Context, userID string, fn func(*Tx) error) error {
	return s.Update(domain.ContextWithActor(ctx, userID), fn)
}

// BoardAccess resolves userID's relation to boardID outside a transaction.
func (s *Store) BoardAccess(ctx context.Context, boardID, userID string) (domain.Access, error) {
	return loadAccess(ctx, s.db, boardID, userID)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a write transaction. It satisfies ordering.Tx.
type Tx struct {
	tx     *sql.Tx
	store  *Store
	actor  string
	events []domain.BoardEvent
}

var _ ordering.Tx = (*Tx)(nil)

// Emit queues ev for boardID. Queued events are dropped on rollback.
func (t *Tx) Emit(boardID string, ev domain.Event) {
	t.events = append(t.events, domain.BoardEvent{
		BoardID: boardID,
		ActorID: t.actor,
		Event:   ev,
		At:      t.store.now(),
	})
}

func (t *Tx) Access(ctx context.Context, boardID, userID string) (domain.Access, error) {
	return loadAccess(ctx, t.tx, boardID, userID)
}

func (t *Tx) CardLocation(ctx context.Context, cardID string) (string, string, error) {
	var listID, boardID string
	err := t.tx.QueryRowContext(ctx,
		`SELECT c.list_id, l.board_id FROM cards c JOIN lists l ON l.id = c.list_id WHERE c.id = ?`,
		cardID,
	).Scan(&listID, &boardID)
	if err != nil {
		return "", "", notFound(err, "card")
	}
	return listID, boardID, nil
}

func (t *Tx) ListBoard(ctx context.Context, listID string) (string, error) {
	var boardID string
	if err := t.tx.QueryRowContext(ctx, `SELECT board_id FROM lists WHERE id = ?`, listID).Scan(&boardID); err != nil {
		return "", notFound(err, "list")
	}
	return boardID, nil
}

func (t *Tx) Cards(listID string) ordering.Collection { return t.cards(listID) }

func (t *Tx) Lists(boardID string) ordering.Collection { return t.lists(boardID) }

func (t *Tx) cards(listID string) collection {
	return collection{tx: t, table: "cards", parentColumn: "list_id", parent: listID}
}

func (t *Tx) lists(boardID string) collection {
	return collection{tx: t, table: "lists", parentColumn: "board_id", parent: boardID}
}

// collection is one positioned sibling set: the cards of a list or the
// lists of a board.
type collection struct {
	tx           *Tx
	table        string
	parentColumn string
	parent       string
}

func (c collection) Items(ctx context.Context) ([]ordering.Item, error) {
	rows, err := c.tx.tx.QueryContext(ctx,
		`SELECT id, position FROM `+c.table+` WHERE `+c.parentColumn+` = ?`, c.parent)
	if err != nil {
		return nil, fmt.Errorf("read %s positions: %w", c.table, err)
	}
	defer rows.Close()
	var out []ordering.Item
	for rows.Next() {
		var it ordering.Item
		if err := rows.Scan(&it.ID, &it.Position); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (c collection) Place(ctx context.Context, id string, position float64) error {
	res, err := c.tx.tx.ExecContext(ctx,
		`UPDATE `+c.table+` SET position = ?, `+c.parentColumn+` = ? WHERE id = ?`,
		position, c.parent, id)
	if err != nil {
		return fmt.Errorf("place %s %s: %w", c.table, id, err)
	}
	return requireAffected(res, c.table)
}

// sorted returns the collection ordered by position then id.
func (c collection) sorted(ctx context.Context) ([]ordering.Item, error) {
	items, err := c.Items(ctx)
	if err != nil {
		return nil, err
	}
	ordering.Sort(items)
	return items, nil
}

// appendPosition is the create path: the next gapped slot after the last
// sibling.
func (t *Tx) appendPosition(ctx context.Context, c collection) (float64, error) {
	items, err := c.sorted(ctx)
	if err != nil {
		return 0, err
	}
	return t.store.alloc.Append(items), nil
}

// placeAt moves a freshly appended row to index when one was requested.
func (t *Tx) placeAt(ctx context.Context, c collection, id string, index *int) (float64, error) {
	if index == nil {
		return 0, nil
	}
	if *index < 0 {
		return 0, fmt.Errorf("%w: index must be >= 0", domain.ErrValidation)
	}
	p, err := ordering.Place(ctx, t.store.alloc, c, id, *index)
	if err != nil {
		return 0, err
	}
	return p.Position, nil
}

func loadAccess(ctx context.Context, q querier, boardID, userID string) (domain.Access, error) {
	var ownerID, role string
	err := q.QueryRowContext(ctx,
		`SELECT b.owner_id, COALESCE(m.role, '')
		   FROM boards b
		   LEFT JOIN board_members m ON m.board_id = b.id AND m.user_id = ?
		  WHERE b.id = ?`,
		userID, boardID,
	).Scan(&ownerID, &role)
	if err != nil {
		return domain.Access{}, notFound(err, "board")
	}
	return domain.Access{
		BoardID: boardID,
		UserID:  userID,
		IsOwner: ownerID == userID,
		Role:    domain.Role(role),
	}, nil
}

// notFound maps sql.ErrNoRows to domain.ErrNotFound and wraps the rest.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	}
	return fmt.Errorf("load %s: %w", what, err)
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
