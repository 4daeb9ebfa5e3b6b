// Package cache keeps each user's connected-id set in Redis so feed pages do
// not reload it from MongoDB on every request.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	keyPrefix = "community:connected:"
	genPrefix = "community:connected-gen:"
)

// genTTL keeps generation counters well past any in-flight reload.
const genTTL = 24 * time.Hour

var errStale = errors.New("connected set generation changed")

// DefaultTTL bounds how stale a cached set can get if an invalidation is lost.
const DefaultTTL = 5 * time.Minute

// ConnectedSets stores connected-id sets as comma-joined hex strings.
type ConnectedSets struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewConnectedSets returns a cache backed by rdb. A non-positive ttl uses
// DefaultTTL.
func NewConnectedSets(rdb redis.UniversalClient, ttl time.Duration) *ConnectedSets {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ConnectedSets{rdb: rdb, ttl: ttl}
}

// Dial connects to Redis at addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

// Both keys of a user hash to the same cluster slot.
func key(user bson.ObjectID) string {
	return keyPrefix + "{" + user.Hex() + "}"
}

func genKey(user bson.ObjectID) string {
	return genPrefix + "{" + user.Hex() + "}"
}

// Get returns the cached set for user and the generation it was read at.
// ok is false on a cache miss; gen is still valid and should be passed to
// Set after reloading.
func (c *ConnectedSets) Get(ctx context.Context, user bson.ObjectID) ([]bson.ObjectID, int64, bool, error) {
	vals, err := c.rdb.MGet(ctx, key(user), genKey(user)).Result()
	if err != nil {
		return nil, 0, false, fmt.Errorf("get connected set: %w", err)
	}

	var gen int64
	if s, ok := vals[1].(string); ok {
		gen, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, 0, false, fmt.Errorf("parse connected set generation: %w", err)
		}
	}

	val, ok := vals[0].(string)
	if !ok {
		return nil, gen, false, nil
	}
	if val == "" {
		return []bson.ObjectID{}, gen, true, nil
	}
	parts := strings.Split(val, ",")
	ids := make([]bson.ObjectID, 0, len(parts))
	for _, p := range parts {
		id, err := bson.ObjectIDFromHex(p)
		if err != nil {
			// corrupt entry; treat as a miss and let the caller reload
			return nil, gen, false, nil
		}
		ids = append(ids, id)
	}
	return ids, gen, true, nil
}

// Set caches ids as user's connected set if no invalidation happened since
// gen was read. A skipped write is not an error.
func (c *ConnectedSets) Set(ctx context.Context, user bson.ObjectID, gen int64, ids []bson.ObjectID) error {
	hexes := make([]string, len(ids))
	for i, id := range ids {
		hexes[i] = id.Hex()
	}

	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey(user)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key(user), strings.Join(hexes, ","), c.ttl)
			return nil
		})
		return err
	}, genKey(user))

	if errors.Is(err, errStale) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("set connected set: %w", err)
	}
	return nil
}

// Invalidate drops the cached sets of users and bumps their generations so
// that loads started before the call cannot write back.
func (c *ConnectedSets) Invalidate(ctx context.Context, users ...bson.ObjectID) error {
	if len(users) == 0 {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, u := range users {
			pipe.Incr(ctx, genKey(u))
			pipe.Expire(ctx, genKey(u), genTTL)
			pipe.Del(ctx, key(u))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate connected sets: %w", err)
	}
	return nil
}
