package ordering

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prism-board/domain"
)

// End places an item after every existing item.
const End = math.MaxInt

const tracerName = "prism-board/ordering"

// Collection is one ordered set of siblings inside a transaction: the
// cards of a list or the lists of a board.
type Collection interface {
	// Items returns every member of the collection, in any order.
	Items(ctx context.Context) ([]Item, error)
	// Place writes id's position and makes id a member of this collection.
	Place(ctx context.Context, id string, position float64) error
}

// Tx is the slice of a storage transaction the coordinator needs.
type Tx interface {
	Access(ctx context.Context, boardID, userID string) (domain.Access, error)
	// CardLocation returns the list and board currently holding cardID.
	CardLocation(ctx context.Context, cardID string) (listID, boardID string, err error)
	ListBoard(ctx context.Context, listID string) (boardID string, err error)
	Cards(listID string) Collection
	Lists(boardID string) Collection
	// Emit queues an event for delivery after commit.
	Emit(boardID string, ev domain.Event)
}

// Store runs fn in a single transaction. If fn returns an error nothing
// fn wrote is observable.
type Store interface {
	Reorder(ctx context.Context, fn func(Tx) error) error
}

// CompactPolicy decides what happens to the list a card left.
type CompactPolicy int

const (
	// CompactAlways rewrites the source list to the renormalized layout.
	CompactAlways CompactPolicy = iota
	// CompactWhenDegenerate rewrites the source list only when its
	// positions are no longer strictly increasing with usable spacing.
	CompactWhenDegenerate
)

// Placement is the outcome of Place.
type Placement struct {
	Position     float64
	Index        int
	Renormalized bool
}

// Place computes a position for id at index within coll and writes it. id
// is excluded from the sibling read so a same-collection move works. On
// exhausted spacing the collection is renormalized and the insertion
// retried once.
func Place(ctx context.Context, alloc Allocator, coll Collection, id string, index int) (Placement, error) {
	items, err := coll.Items(ctx)
	if err != nil {
		return Placement{}, err
	}
	siblings := items[:0]
	for _, it := range items {
		if it.ID != id {
			siblings = append(siblings, it)
		}
	}
	Sort(siblings)
	index = Clamp(index, len(siblings))

	p := Placement{Index: index}
	pos, err := alloc.Insert(siblings, index)
	if errors.Is(err, ErrRenormalizationRequired) {
		p.Renormalized = true
		for _, it := range alloc.Renormalize(siblings) {
			if err := coll.Place(ctx, it.ID, it.Position); err != nil {
				return Placement{}, fmt.Errorf("renormalize %s: %w", it.ID, err)
			}
		}
		pos, err = alloc.Insert(siblings, index)
	}
	if err != nil {
		return Placement{}, err
	}
	if err := coll.Place(ctx, id, pos); err != nil {
		return Placement{}, err
	}
	p.Position = pos
	return p, nil
}

// Compact renormalizes coll when policy asks for it and reports whether
// anything was rewritten.
func Compact(ctx context.Context, alloc Allocator, coll Collection, policy CompactPolicy) (bool, error) {
	items, err := coll.Items(ctx)
	if err != nil {
		return false, err
	}
	Sort(items)
	if policy == CompactWhenDegenerate && !alloc.Degenerate(items) {
		return false, nil
	}
	changed := alloc.Renormalize(items)
	for _, it := range changed {
		if err := coll.Place(ctx, it.ID, it.Position); err != nil {
			return false, err
		}
	}
	return len(changed) > 0, nil
}

// Coordinator applies card and list moves as single transactions.
type Coordinator struct {
	store   Store
	alloc   Allocator
	compact CompactPolicy
	logger  *log.Logger
	tracer  trace.Tracer
	renorms prometheus.Counter
}

type Option func(*Coordinator)

func WithAllocator(a Allocator) Option { return func(c *Coordinator) { c.alloc = a } }

func WithCompactPolicy(p CompactPolicy) Option { return func(c *Coordinator) { c.compact = p } }

// WithRenormalizationCounter counts every renormalization a move triggers.
func WithRenormalizationCounter(ctr prometheus.Counter) Option {
	return func(c *Coordinator) { c.renorms = ctr }
}

func NewCoordinator(store Store, logger *log.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		panic("ordering.NewCoordinator: logger is nil")
	}
	c := &Coordinator{
		store:  store,
		alloc:  DefaultAllocator,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Allocator exposes the allocator so creation paths use the same gap.
func (c *Coordinator) Allocator() Allocator { return c.alloc }

// MoveResult describes an applied move.
type MoveResult struct {
	ID           string  `json:"id"`
	BoardID      string  `json:"boardId"`
	FromParentID string  `json:"fromParentId"`
	ToParentID   string  `json:"toParentId"`
	Index        int     `json:"index"`
	Position     float64 `json:"position"`
	Renormalized bool    `json:"renormalized"`
	Compacted    bool    `json:"compacted"`
}

// MoveCard moves cardID into targetListID at index (clamped). The target
// may be the card's current list.
func (c *Coordinator) MoveCard(ctx context.Context, userID, cardID, targetListID string, index int) (res MoveResult, err error) {
	ctx, span := c.tracer.Start(ctx, "ordering.MoveCard", trace.WithAttributes(
		attribute.String("card.id", cardID),
		attribute.String("target.list_id", targetListID),
		attribute.Int("target.index", index),
	))
	defer func() { c.finish(span, res, err) }()

	if index < 0 {
		return MoveResult{}, fmt.Errorf("%w: index must be >= 0", domain.ErrValidation)
	}
	err = c.store.Reorder(ctx, func(tx Tx) error {
		srcListID, boardID, err := tx.CardLocation(ctx, cardID)
		if err != nil {
			return err
		}
		access, err := tx.Access(ctx, boardID, userID)
		if err != nil {
			return err
		}
		if err := access.Require(domain.ActionEditContent); err != nil {
			return err
		}
		targetBoardID, err := tx.ListBoard(ctx, targetListID)
		if err != nil {
			return err
		}
		if targetBoardID != boardID {
			targetAccess, err := tx.Access(ctx, targetBoardID, userID)
			if err != nil {
				return err
			}
			if !targetAccess.Visible() {
				return domain.ErrNotFound
			}
			return fmt.Errorf("%w: card %s cannot leave board %s", domain.ErrInvalidMove, cardID, boardID)
		}

		p, err := Place(ctx, c.alloc, tx.Cards(targetListID), cardID, index)
		if err != nil {
			return err
		}
		res = MoveResult{
			ID:           cardID,
			BoardID:      boardID,
			FromParentID: srcListID,
			ToParentID:   targetListID,
			Index:        p.Index,
			Position:     p.Position,
			Renormalized: p.Renormalized,
		}
		if srcListID != targetListID {
			compacted, err := Compact(ctx, c.alloc, tx.Cards(srcListID), c.compact)
			if err != nil {
				return fmt.Errorf("compact source list: %w", err)
			}
			res.Compacted = compacted
		}
		tx.Emit(boardID, domain.NewCardUpdated(cardID))
		return nil
	})
	if err != nil {
		return MoveResult{}, err
	}
	return res, nil
}

// MoveList moves listID to index among the lists of its board.
func (c *Coordinator) MoveList(ctx context.Context, userID, listID string, index int) (res MoveResult, err error) {
	ctx, span := c.tracer.Start(ctx, "ordering.MoveList", trace.WithAttributes(
		attribute.String("list.id", listID),
		attribute.Int("target.index", index),
	))
	defer func() { c.finish(span, res, err) }()

	if index < 0 {
		return MoveResult{}, fmt.Errorf("%w: index must be >= 0", domain.ErrValidation)
	}
	err = c.store.Reorder(ctx, func(tx Tx) error {
		boardID, err := tx.ListBoard(ctx, listID)
		if err != nil {
			return err
		}
		access, err := tx.Access(ctx, boardID, userID)
		if err != nil {
			return err
		}
		if err := access.Require(domain.ActionEditContent); err != nil {
			return err
		}
		p, err := Place(ctx, c.alloc, tx.Lists(boardID), listID, index)
		if err != nil {
			return err
		}
		res = MoveResult{
			ID:           listID,
			BoardID:      boardID,
			FromParentID: boardID,
			ToParentID:   boardID,
			Index:        p.Index,
			Position:     p.Position,
			Renormalized: p.Renormalized,
		}
		tx.Emit(boardID, domain.NewListUpdated())
		return nil
	})
	if err != nil {
		return MoveResult{}, err
	}
	return res, nil
}

func (c *Coordinator) finish(span trace.Span, res MoveResult, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.String("board.id", res.BoardID),
		attribute.Bool("renormalized", res.Renormalized),
		attribute.Bool("compacted", res.Compacted),
	)
	if res.Renormalized {
		if c.renorms != nil {
			c.renorms.Inc()
		}
		c.logger.WithFields(log.Fields{
			"board":  res.BoardID,
			"parent": res.ToParentID,
			"item":   res.ID,
		}).Info("ordering.renormalized")
	}
}
