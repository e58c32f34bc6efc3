// Package realtime fans committed board changes out to connected viewers:
// an in-process topic registry keyed by board, the SSE stream endpoint
// that feeds one registered sink per connection, and a redis relay that
// carries events between server instances.
package realtime

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// ErrRegistryClosed is returned by Subscribe after Close.
var ErrRegistryClosed = errors.New("registry closed")

// Registry maps board ids to the sinks currently watching them. Sinks of
// one board are guarded by that board's lock, so broadcasts to different
// boards never contend.
type Registry struct {
	topics  *xsync.Map[string, *topic]
	nextID  atomic.Uint64
	closed  atomic.Bool
	logger  *log.Logger
	metrics *Metrics
}

type topic struct {
	mu    sync.Mutex
	sinks map[uint64]Sink
	// dead is set, under mu, right before the topic leaves the map. A
	// subscriber that loaded a dead topic must look it up again.
	dead bool
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	reg     *Registry
	boardID string
	id      uint64
	once    sync.Once
}

func (s *Subscription) BoardID() string { return s.boardID }

// Unsubscribe removes the sink. Only the first call has an effect.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.reg.remove(s.boardID, s.id) })
}

type RegistryOption func(*Registry)

func WithMetrics(m *Metrics) RegistryOption { return func(r *Registry) { r.metrics = m } }

func NewRegistry(logger *log.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		panic("realtime.NewRegistry: logger is nil")
	}
	r := &Registry{
		topics: xsync.NewMap[string, *topic](),
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers sink under boardID, creating the board's topic on
// first use.
func (r *Registry) Subscribe(boardID string, sink Sink) (*Subscription, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}
	id := r.nextID.Add(1)
	for {
		t, ok := r.topics.Load(boardID)
		created := false
		if !ok {
			t, ok = r.topics.LoadOrStore(boardID, &topic{sinks: make(map[uint64]Sink)})
			created = !ok
		}
		t.mu.Lock()
		if t.dead {
			t.mu.Unlock()
			continue
		}
		t.sinks[id] = sink
		t.mu.Unlock()
		if created {
			r.metrics.subscribed(1, 1)
		} else {
			r.metrics.subscribed(1, 0)
		}
		break
	}

	sub := &Subscription{reg: r, boardID: boardID, id: id}
	// Close may have swept the topics before this sink landed.
	if r.closed.Load() {
		sub.Unsubscribe()
		return nil, ErrRegistryClosed
	}
	r.logger.WithFields(log.Fields{"board": boardID, "sink": id}).Debug("realtime.subscribed")
	return sub, nil
}

// Unsubscribe is shorthand for sub.Unsubscribe.
func (r *Registry) Unsubscribe(sub *Subscription) {
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (r *Registry) remove(boardID string, id uint64) {
	t, ok := r.topics.Load(boardID)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sinks[id]; !ok {
		return
	}
	delete(t.sinks, id)
	if len(t.sinks) == 0 {
		t.dead = true
		r.topics.Delete(boardID)
		r.metrics.subscribed(-1, -1)
	} else {
		r.metrics.subscribed(-1, 0)
	}
	r.logger.WithFields(log.Fields{"board": boardID, "sink": id}).Debug("realtime.unsubscribed")
}

// Broadcast hands ev to every sink of boardID and returns how many accepted
// it. Sink failures are logged and counted, never returned.
func (r *Registry) Broadcast(boardID string, ev domain.Event) int {
	t, ok := r.topics.Load(boardID)
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dead {
		return 0
	}
	n := 0
	for id, s := range t.sinks {
		if r.deliver(boardID, id, s, ev) {
			n++
		}
	}
	return n
}

func (r *Registry) deliver(boardID string, id uint64, s Sink, ev domain.Event) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.WithFields(log.Fields{"board": boardID, "sink": id, "panic": p}).Warn("realtime.sink.panic")
			ok = false
		}
		r.metrics.delivered(ok)
	}()
	if err := s.Deliver(ev); err != nil {
		r.logger.WithFields(log.Fields{
			"board": boardID,
			"sink":  id,
			"event": ev.Type,
		}).WithError(err).Debug("realtime.sink.dropped")
		return false
	}
	return true
}

// Subscribers returns the number of sinks registered for boardID.
func (r *Registry) Subscribers(boardID string) int {
	t, ok := r.topics.Load(boardID)
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sinks)
}

// Topics returns the number of boards with at least one sink.
func (r *Registry) Topics() int { return r.topics.Size() }

// Close rejects further subscriptions and closes every registered sink so
// stream handlers return. Safe to call more than once.
func (r *Registry) Close() {
	if r.closed.Swap(true) {
		return
	}
	closedSinks := 0
	r.topics.Range(func(boardID string, t *topic) bool {
		t.mu.Lock()
		for id, s := range t.sinks {
			s.Close()
			delete(t.sinks, id)
			closedSinks++
			r.metrics.subscribed(-1, 0)
		}
		if !t.dead {
			t.dead = true
			r.topics.Delete(boardID)
			r.metrics.subscribed(0, -1)
		}
		t.mu.Unlock()
		return true
	})
	r.logger.WithField("sinks", closedSinks).Info("realtime.registry.closed")
}
