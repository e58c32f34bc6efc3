package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// RedisDeduper stores idempotency keys in redis so all instances reject a
// replayed mutation.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("idem:%s:%s", userID, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, key), 1, r.ttl).Result()
}

// Remove forgets a key so a failed request may be retried with it.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}

// idempotencyMiddleware rejects a mutating request whose Idempotency-Key the
// same user already used. Keys of requests that fail are released.
func idempotencyMiddleware(d Deduper, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get(HeaderIdempotencyKey)
			if d == nil || key == "" || c.Request().Method == http.MethodGet {
				return next(c)
			}
			uid := userID(c)
			ctx := c.Request().Context()
			added, err := d.Add(ctx, uid, key)
			if err != nil {
				// the deduper is an optimisation; serve the request without it
				logger.WithError(err).Warn("api.idempotency.unavailable")
				return next(c)
			}
			if !added {
				return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
			}
			err = next(c)
			if err != nil || c.Response().Status >= http.StatusBadRequest {
				if rerr := d.Remove(context.WithoutCancel(ctx), uid, key); rerr != nil {
					logger.WithError(rerr).WithField("user", uid).Error("api.idempotency.rollback")
				}
			}
			return err
		}
	}
}
