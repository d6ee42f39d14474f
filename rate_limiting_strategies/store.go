package rate_limiting_strategies

import (
	"context"
	"time"
)

// Entry is the per-key window state.
type Entry struct {
	Count      int64
	ResetAt    time.Time
	Blocked    bool
	BlockUntil time.Time
}

// BlockedAt reports whether the entry rejects every request at now.
func (e *Entry) BlockedAt(now time.Time) bool {
	return e.Blocked && now.Before(e.BlockUntil)
}

// Expired reports whether both the window and any block have lapsed, i.e. the
// entry can be dropped without changing a future decision.
func (e *Entry) Expired(now time.Time) bool {
	if now.Before(e.ResetAt) {
		return false
	}
	return !e.Blocked || !now.Before(e.BlockUntil)
}

// expiresAt is the last instant at which the entry still matters.
func (e *Entry) expiresAt() time.Time {
	if e.Blocked && e.BlockUntil.After(e.ResetAt) {
		return e.BlockUntil
	}
	return e.ResetAt
}

// UpdateFunc receives the current entry for a key and returns its replacement.
// Nothing is written when write is false. It may be called more than once per
// Update, so it must not have side effects beyond its captured result.
type UpdateFunc func(entry Entry, found bool) (next Entry, write bool)

// Store keeps window entries keyed by caller identifier.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the entry for key and whether it exists.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Set replaces the entry for key.
	Set(ctx context.Context, key string, entry Entry) error
	// Update applies fn to the entry for key as one atomic read-modify-write.
	// Concurrent Updates of a key never interleave, even across processes
	// sharing the store.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	// Sweep deletes every entry that is Expired at now and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}
