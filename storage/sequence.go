package storage

import (
	"slices"
	"sync"

	"prism-board/domain"
)

// hookSequencer orders commit hook calls per board without serializing
// unrelated boards. A commit takes one ticket per board it touched while
// the commit lock is held; the hook then runs once every earlier ticket on
// those boards has been released.
type hookSequencer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	issued map[string]uint64
	served map[string]uint64
}

type hookTurn struct {
	boards  []string
	tickets []uint64
}

func newHookSequencer() *hookSequencer {
	q := &hookSequencer{issued: map[string]uint64{}, served: map[string]uint64{}}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// take issues tickets for the boards in events. Callers hold the commit
// lock so tickets follow commit order.
func (q *hookSequencer) take(events []domain.BoardEvent) hookTurn {
	var t hookTurn
	for _, ev := range events {
		if !slices.Contains(t.boards, ev.BoardID) {
			t.boards = append(t.boards, ev.BoardID)
		}
	}
	q.mu.Lock()
	for _, b := range t.boards {
		t.tickets = append(t.tickets, q.issued[b])
		q.issued[b]++
	}
	q.mu.Unlock()
	return t
}

// wait blocks until t is at the head of every board it touches.
func (q *hookSequencer) wait(t hookTurn) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.ready(t) {
		q.cond.Wait()
	}
}

func (q *hookSequencer) ready(t hookTurn) bool {
	for i, b := range t.boards {
		if q.served[b] != t.tickets[i] {
			return false
		}
	}
	return true
}

// done releases t. Boards with no outstanding tickets are forgotten.
func (q *hookSequencer) done(t hookTurn) {
	q.mu.Lock()
	for _, b := range t.boards {
		q.served[b]++
		if q.served[b] == q.issued[b] {
			delete(q.served, b)
			delete(q.issued, b)
		}
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}
