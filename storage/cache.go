package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

// SnapshotSource reads a full board tree.
type SnapshotSource interface {
	Snapshot(ctx context.Context, boardID string) (domain.Board, error)
}

// generationTTL outlives any in-flight snapshot read by a wide margin.
const generationTTL = 24 * time.Hour

var errGenerationMoved = errors.New("snapshot generation moved")

// SnapshotCache serves board snapshots through redis. Every committed
// change evicts the board's entry before its event is broadcast, so a
// client refetching on an event never reads the previous snapshot.
//
// Evict also bumps a per-board generation. A read stores its result only
// if the generation it saw before reading the database is still current,
// so a read that raced a commit cannot put the old tree back.
type SnapshotCache struct {
	base  SnapshotSource
	redis *redis.Client
	ttl   time.Duration
}

// NewSnapshotCache wraps base. A nil client or a zero ttl disables caching.
func NewSnapshotCache(base SnapshotSource, client *redis.Client, ttl time.Duration) *SnapshotCache {
	if base == nil {
		panic("storage.NewSnapshotCache: base is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &SnapshotCache{base: base, redis: client, ttl: ttl}
}

func (c *SnapshotCache) Snapshot(ctx context.Context, boardID string) (domain.Board, error) {
	if b, ok := c.load(ctx, boardID); ok {
		return b, nil
	}
	gen, genOK := c.generation(ctx, boardID)
	b, err := c.base.Snapshot(ctx, boardID)
	if err != nil {
		return domain.Board{}, err
	}
	if genOK {
		c.store(ctx, boardID, gen, b)
	}
	return b, nil
}

// Evict drops the cached snapshot of boardID and invalidates reads that
// started before the call.
func (c *SnapshotCache) Evict(ctx context.Context, boardID string) error {
	if c.redis == nil {
		return nil
	}
	genKey := snapshotGenerationKey(boardID)
	_, err := c.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey)
		p.Expire(ctx, genKey, generationTTL)
		p.Del(ctx, snapshotCacheKey(boardID))
		return nil
	})
	return err
}

// generation reports the board's current generation. ok is false when it
// cannot be read, and the caller then skips caching.
func (c *SnapshotCache) generation(ctx context.Context, boardID string) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, snapshotGenerationKey(boardID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	return gen, err == nil
}

func (c *SnapshotCache) load(ctx context.Context, boardID string) (domain.Board, bool) {
	if c.redis == nil || c.ttl == 0 {
		return domain.Board{}, false
	}
	data, err := c.redis.Get(ctx, snapshotCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// fall back to the database without failing the read
			_ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Err()
		}
		return domain.Board{}, false
	}
	var b domain.Board
	if err := sonic.Unmarshal(data, &b); err != nil {
		_ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Err()
		return domain.Board{}, false
	}
	return b, true
}

func (c *SnapshotCache) store(ctx context.Context, boardID string, gen int64, b domain.Board) {
	data, err := sonic.Marshal(b)
	if err != nil {
		return
	}
	genKey := snapshotGenerationKey(boardID)
	// WATCH turns a concurrent Evict into a failed EXEC
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errGenerationMoved
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, snapshotCacheKey(boardID), data, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

func snapshotCacheKey(boardID string) string {
	return "board:snapshot:" + boardID
}

func snapshotGenerationKey(boardID string) string {
	return "board:snapshot-gen:" + boardID
}
