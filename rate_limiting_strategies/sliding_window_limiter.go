package rate_limiting_strategies

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aryangodara/dalil"
	"github.com/cespare/xxhash/v2"
)

var (
	_ dalil.Strategy = &slidingWindowLimiter{}
)

// lockShards bounds the number of mutexes; keys hashing to the same shard
// serialize, which only costs latency. Queueing here keeps callers in one
// process from retrying against each other inside Store.Update.
const lockShards = 64

type slidingWindowLimiter struct {
	store Store
	now   func() time.Time
	locks [lockShards]sync.Mutex
}

// NewSlidingWindowLimiter initializes a window limiter with blocking: the window is
// anchored at the first request, and a key that goes over the limit is rejected
// until its block expires, even past the window's reset time.
func NewSlidingWindowLimiter(store Store, now func() time.Time) dalil.Strategy {
	return &slidingWindowLimiter{
		store: store,
		now:   now,
	}
}

// Execute performs rate limiting for one request. The whole transition runs
// inside one Store.Update, so processes sharing a Redis store see each
// other's counts.
func (s *slidingWindowLimiter) Execute(ctx context.Context, r *dalil.Request) (*dalil.Result, error) {
	lock := &s.locks[xxhash.Sum64String(r.Key)%lockShards]
	lock.Lock()
	defer lock.Unlock()

	now := s.now()

	var result *dalil.Result
	err := s.store.Update(ctx, r.Key, func(entry Entry, found bool) (Entry, bool) {
		var next Entry
		var write bool
		next, result, write = transition(r, entry, found, now)
		return next, write
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply request for key %v: %w", r.Key, err)
	}

	return result, nil
}

// transition moves one key's entry forward by a single request at now.
func transition(r *dalil.Request, entry Entry, found bool, now time.Time) (Entry, *dalil.Result, bool) {
	// blocked keys are rejected outright and the count is left alone
	if found && entry.BlockedAt(now) {
		return entry, &dalil.Result{
			State:         dalil.Deny,
			TotalRequests: entry.Count,
			Remaining:     0,
			ExpiresAt:     entry.BlockUntil,
		}, false
	}

	// an unseen key, a lapsed block, or a lapsed window all start a fresh window
	if !found || entry.Blocked || !now.Before(entry.ResetAt) {
		entry = Entry{
			Count:   1,
			ResetAt: now.Add(r.Duration),
		}
		return entry, &dalil.Result{
			State:         dalil.Allow,
			TotalRequests: entry.Count,
			Remaining:     r.Limit - entry.Count,
			ExpiresAt:     entry.ResetAt,
		}, true
	}

	entry.Count++

	if entry.Count > r.Limit {
		entry.Blocked = true
		entry.BlockUntil = now.Add(r.BlockFor())
		return entry, &dalil.Result{
			State:         dalil.Deny,
			TotalRequests: entry.Count,
			Remaining:     0,
			ExpiresAt:     entry.BlockUntil,
		}, true
	}

	return entry, &dalil.Result{
		State:         dalil.Allow,
		TotalRequests: entry.Count,
		Remaining:     r.Limit - entry.Count,
		ExpiresAt:     entry.ResetAt,
	}, true
}
