package dalil

import (
	"context"
	"time"
)

// Request defines a request to be rate-limited.
type Request struct {
	Key      string
	Limit    int64
	Duration time.Duration
	// BlockDuration is how long a key stays rejected once it exceeds Limit.
	// Zero means Duration.
	BlockDuration time.Duration
}

// BlockFor returns the effective block duration for the request.
func (r *Request) BlockFor() time.Duration {
	if r.BlockDuration > 0 {
		return r.BlockDuration
	}
	return r.Duration
}

// State represents the result of rate limiting.
type State int64

const (
	Deny State = iota
	Allow
)

// State strings for HTTP headers
var stateStrings = map[State]string{
	Allow: "Allow",
	Deny:  "Deny",
}

// String returns the header representation of the state.
func (s State) String() string {
	return stateStrings[s]
}

// Result is the outcome of a rate limit check.
type Result struct {
	State         State
	TotalRequests int64
	Remaining     int64
	// ExpiresAt is when the current window resets, or when the block lifts
	// for a denied key.
	ExpiresAt time.Time
}

// Allowed reports whether the request was admitted.
func (r *Result) Allowed() bool {
	return r.State == Allow
}

// Strategy interface defines the contract for rate limiting strategies.
type Strategy interface {
	Execute(ctx context.Context, r *Request) (*Result, error)
}
