package rate_limiting_strategies

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	_ Store = &redisStore{}
)

const (
	fieldCount      = "count"
	fieldResetAt    = "reset_at"
	fieldBlocked    = "blocked"
	fieldBlockUntil = "block_until"

	sweepScanCount = 100

	// maxUpdateAttempts bounds optimistic retries while other writers keep
	// changing the same key.
	maxUpdateAttempts = 64
)

// ErrUpdateContention is returned when an Update keeps losing its WATCH race.
var ErrUpdateContention = errors.New("too many concurrent writers")

// DefaultKeyPrefix namespaces limiter hashes in a shared Redis.
const DefaultKeyPrefix = "ratelimit:"

type redisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore keeps entries in Redis hashes so several server processes share quotas.
// Keys carry a TTL matching the entry's expiry, so Sweep only cleans up what Redis
// has not already expired.
func NewRedisStore(client *redis.Client, prefix string, now func() time.Time) Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &redisStore{
		client: client,
		prefix: prefix,
		now:    now,
	}
}

func (s *redisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	values, err := s.client.HGetAll(ctx, s.prefix+key).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read entry for key %v: %w", key, err)
	}
	if len(values) == 0 {
		return Entry{}, false, nil
	}

	entry, err := decodeEntry(values)
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to decode entry for key %v: %w", key, err)
	}
	return entry, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, entry Entry) error {
	redisKey := s.prefix + key

	// Redis pipeline to write the hash and its TTL in one round trip.
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.queueWrite(ctx, pipe, redisKey, entry)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write entry for key %v: %w", key, err)
	}
	return nil
}

// Update runs fn under WATCH on the key. If another client writes the key
// between the read and the MULTI/EXEC, the transaction is dropped and fn runs
// again on the fresh entry.
func (s *redisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	redisKey := s.prefix + key

	txf := func(tx *redis.Tx) error {
		values, err := tx.HGetAll(ctx, redisKey).Result()
		if err != nil {
			return fmt.Errorf("failed to read entry for key %v: %w", key, err)
		}

		var entry Entry
		found := len(values) > 0
		if found {
			if entry, err = decodeEntry(values); err != nil {
				return fmt.Errorf("failed to decode entry for key %v: %w", key, err)
			}
		}

		next, write := fn(entry, found)
		if !write {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.queueWrite(ctx, pipe, redisKey, next)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, redisKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to update key %v: %w", key, err)
		}
		return nil
	}

	return fmt.Errorf("failed to update key %v after %d attempts: %w", key, maxUpdateAttempts, ErrUpdateContention)
}

// queueWrite stores entry with a TTL ending when the entry stops mattering,
// or deletes the key when that moment has already passed.
func (s *redisStore) queueWrite(ctx context.Context, pipe redis.Pipeliner, redisKey string, entry Entry) {
	ttl := entry.expiresAt().Sub(s.now())
	if ttl <= 0 {
		pipe.Del(ctx, redisKey)
		return
	}
	pipe.HSet(ctx, redisKey, encodeEntry(entry))
	pipe.PExpire(ctx, redisKey, ttl)
}

func (s *redisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0

	iter := s.client.Scan(ctx, 0, s.prefix+"*", sweepScanCount).Iterator()
	for iter.Next(ctx) {
		redisKey := iter.Val()

		deleted, err := s.sweepKey(ctx, redisKey, now)
		if errors.Is(err, redis.TxFailedErr) {
			// rewritten since it was read, so it is live again
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("failed to sweep key %v: %w", redisKey, err)
		}
		if deleted {
			removed++
		}
	}

	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan keys with prefix %v: %w", s.prefix, err)
	}

	return removed, nil
}

// sweepKey deletes redisKey if it is expired at now, checking and deleting
// under WATCH so a concurrent limiter write is never lost.
func (s *redisStore) sweepKey(ctx context.Context, redisKey string, now time.Time) (bool, error) {
	deleted := false

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		values, err := tx.HGetAll(ctx, redisKey).Result()
		if err != nil {
			return err
		}
		if len(values) == 0 {
			return nil
		}

		// undecodable hashes are dropped as well; the next request recreates them
		entry, err := decodeEntry(values)
		if err == nil && !entry.Expired(now) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, redisKey)
			return nil
		})
		deleted = err == nil
		return err
	}, redisKey)

	return deleted, err
}

func encodeEntry(e Entry) map[string]interface{} {
	blocked := "0"
	if e.Blocked {
		blocked = "1"
	}
	return map[string]interface{}{
		fieldCount:      e.Count,
		fieldResetAt:    unixMilli(e.ResetAt),
		fieldBlocked:    blocked,
		fieldBlockUntil: unixMilli(e.BlockUntil),
	}
}

func decodeEntry(values map[string]string) (Entry, error) {
	count, err := strconv.ParseInt(values[fieldCount], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to parse count: %w", err)
	}

	resetAt, err := parseUnixMilli(values[fieldResetAt])
	if err != nil {
		return Entry{}, fmt.Errorf("failed to parse reset time: %w", err)
	}

	blockUntil, err := parseUnixMilli(values[fieldBlockUntil])
	if err != nil {
		return Entry{}, fmt.Errorf("failed to parse block time: %w", err)
	}

	return Entry{
		Count:      count,
		ResetAt:    resetAt,
		Blocked:    values[fieldBlocked] == "1",
		BlockUntil: blockUntil,
	}, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func parseUnixMilli(s string) (time.Time, error) {
	if s == "" || s == "0" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
