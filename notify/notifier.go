// Package notify is the post-commit side of every board mutation: it
// evicts the cached snapshot, pushes the event to local subscribers and
// hands it to the slower outlets (relay, activity log, export queue).
package notify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// Broadcaster delivers an event to the local subscribers of a board.
type Broadcaster interface {
	Broadcast(boardID string, ev domain.Event) int
}

// Evictor drops a board's cached snapshot.
type Evictor interface {
	Evict(ctx context.Context, boardID string) error
}

// DefaultEvictTimeout bounds the eviction of one board, retries included.
const DefaultEvictTimeout = 250 * time.Millisecond

type Notifier struct {
	registry     Broadcaster
	cache        Evictor
	dispatcher   *Dispatcher
	logger       *log.Logger
	metrics      *Metrics
	evictRetry   func() backoff.BackOff
	evictTimeout time.Duration
}

type Option func(*Notifier)

func WithCache(e Evictor) Option { return func(n *Notifier) { n.cache = e } }

func WithDispatcher(d *Dispatcher) Option { return func(n *Notifier) { n.dispatcher = d } }

func WithMetrics(m *Metrics) Option { return func(n *Notifier) { n.metrics = m } }

// WithEvictTimeout caps how long a slow cache can hold back a broadcast.
func WithEvictTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.evictTimeout = d
		}
	}
}

func New(registry Broadcaster, logger *log.Logger, opts ...Option) *Notifier {
	if registry == nil {
		panic("notify.New: registry is nil")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	n := &Notifier{
		registry:     registry,
		logger:       logger,
		evictTimeout: DefaultEvictTimeout,
		evictRetry: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 2)
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Committed handles the events of one committed transaction, in order. It
// has the storage.CommitHook signature. A board's snapshot is evicted
// before its first event is broadcast.
func (n *Notifier) Committed(ctx context.Context, events []domain.BoardEvent) {
	n.metrics.committed(len(events))
	var evicted map[string]struct{}
	for _, ev := range events {
		if err := ev.Event.Validate(); err != nil || ev.BoardID == "" {
			n.logger.WithFields(log.Fields{"board": ev.BoardID, "event": ev.Event.Type}).
				WithError(err).Error("notify.event.invalid")
			continue
		}
		if n.cache != nil {
			if _, ok := evicted[ev.BoardID]; !ok {
				if evicted == nil {
					evicted = make(map[string]struct{}, 1)
				}
				evicted[ev.BoardID] = struct{}{}
				n.evict(ctx, ev.BoardID)
			}
		}
		delivered := n.registry.Broadcast(ev.BoardID, ev.Event)
		n.logger.WithFields(log.Fields{
			"board":     ev.BoardID,
			"event":     ev.Event.Type,
			"actor":     ev.ActorID,
			"delivered": delivered,
		}).Debug("notify.broadcast")
		if n.dispatcher != nil {
			n.dispatcher.Submit(ev)
		}
	}
}

func (n *Notifier) evict(ctx context.Context, boardID string) {
	ctx, cancel := context.WithTimeout(ctx, n.evictTimeout)
	defer cancel()
	op := func() error { return n.cache.Evict(ctx, boardID) }
	if err := backoff.Retry(op, backoff.WithContext(n.evictRetry(), ctx)); err != nil {
		n.metrics.evictionFailed()
		n.logger.WithField("board", boardID).WithError(err).Warn("notify.cache.evict_failed")
	}
}
