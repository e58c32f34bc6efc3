package ordering

import (
	"context"
	"errors"
	"sync"

	"prism-board/domain"
)

// memStore is a copy-on-write fake: a transaction works on a clone that
// replaces the committed state only when fn succeeds.
type memStore struct {
	mu       sync.Mutex
	state    memState
	events   []domain.BoardEvent
	failNext error
	writes   int
}

type memState struct {
	owners  map[string]string                 // board -> owner
	members map[string]map[string]domain.Role // board -> user -> role
	lists   map[string]memRow                 // list -> board
	cards   map[string]memRow                 // card -> list
}

type memRow struct {
	parent   string
	position float64
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		owners:  map[string]string{},
		members: map[string]map[string]domain.Role{},
		lists:   map[string]memRow{},
		cards:   map[string]memRow{},
	}}
}

func (s memState) clone() memState {
	out := memState{
		owners:  make(map[string]string, len(s.owners)),
		members: make(map[string]map[string]domain.Role, len(s.members)),
		lists:   make(map[string]memRow, len(s.lists)),
		cards:   make(map[string]memRow, len(s.cards)),
	}
	for k, v := range s.owners {
		out.owners[k] = v
	}
	for b, m := range s.members {
		cp := make(map[string]domain.Role, len(m))
		for u, r := range m {
			cp[u] = r
		}
		out.members[b] = cp
	}
	for k, v := range s.lists {
		out.lists[k] = v
	}
	for k, v := range s.cards {
		out.cards[k] = v
	}
	return out
}

func (s *memStore) addBoard(id, owner string) {
	s.state.owners[id] = owner
	s.state.members[id] = map[string]domain.Role{}
}

func (s *memStore) addMember(board, user string, role domain.Role) {
	s.state.members[board][user] = role
}

func (s *memStore) addList(id, board string, pos float64) {
	s.state.lists[id] = memRow{parent: board, position: pos}
}

func (s *memStore) addCard(id, list string, pos float64) {
	s.state.cards[id] = memRow{parent: list, position: pos}
}

func (s *memStore) Reorder(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{store: s, state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	s.events = append(s.events, tx.events...)
	return nil
}

// ordered returns the committed children of parent sorted by position, id.
func (s *memStore) ordered(rows map[string]memRow, parent string) []Item {
	var out []Item
	for id, r := range rows {
		if r.parent == parent {
			out = append(out, Item{ID: id, Position: r.position})
		}
	}
	Sort(out)
	return out
}

func (s *memStore) cardsOf(list string) []Item  { return s.ordered(s.state.cards, list) }
func (s *memStore) listsOf(board string) []Item { return s.ordered(s.state.lists, board) }

type memTx struct {
	store  *memStore
	state  memState
	events []domain.BoardEvent
}

func (t *memTx) Access(_ context.Context, boardID, userID string) (domain.Access, error) {
	owner, ok := t.state.owners[boardID]
	if !ok {
		return domain.Access{}, domain.ErrNotFound
	}
	return domain.Access{
		BoardID: boardID,
		UserID:  userID,
		IsOwner: owner == userID,
		Role:    t.state.members[boardID][userID],
	}, nil
}

func (t *memTx) CardLocation(_ context.Context, cardID string) (string, string, error) {
	c, ok := t.state.cards[cardID]
	if !ok {
		return "", "", domain.ErrNotFound
	}
	l, ok := t.state.lists[c.parent]
	if !ok {
		return "", "", domain.ErrNotFound
	}
	return c.parent, l.parent, nil
}

func (t *memTx) ListBoard(_ context.Context, listID string) (string, error) {
	l, ok := t.state.lists[listID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return l.parent, nil
}

func (t *memTx) Cards(listID string) Collection {
	return memCollection{tx: t, rows: t.state.cards, parent: listID}
}

func (t *memTx) Lists(boardID string) Collection {
	return memCollection{tx: t, rows: t.state.lists, parent: boardID}
}

func (t *memTx) Emit(boardID string, ev domain.Event) {
	t.events = append(t.events, domain.BoardEvent{BoardID: boardID, Event: ev})
}

type memCollection struct {
	tx     *memTx
	rows   map[string]memRow
	parent string
}

func (c memCollection) Items(context.Context) ([]Item, error) {
	var out []Item
	for id, r := range c.rows {
		if r.parent == c.parent {
			out = append(out, Item{ID: id, Position: r.position})
		}
	}
	return out, nil
}

func (c memCollection) Place(_ context.Context, id string, position float64) error {
	if err := c.tx.store.failNext; err != nil {
		c.tx.store.failNext = nil
		return err
	}
	c.tx.store.writes++
	c.rows[id] = memRow{parent: c.parent, position: position}
	return nil
}

var errInjected = errors.New("injected write failure")
