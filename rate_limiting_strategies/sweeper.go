package rate_limiting_strategies

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aryangodara/dalil/metrics"
)

// DefaultSweepInterval is how often expired entries are dropped.
const DefaultSweepInterval = 5 * time.Minute

type SweeperOption func(*Sweeper)

func WithLogger(logger *zap.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithMetrics(m *metrics.Metrics) SweeperOption {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// Sweeper periodically removes expired entries so one-off callers do not grow
// the store forever. Admission decisions do not depend on it.
type Sweeper struct {
	store    Store
	logger   *zap.Logger
	interval time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewSweeper(store Store, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:    store,
		logger:   zap.NewNop(),
		interval: DefaultSweepInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			startTime := time.Now()
			removed, err := s.RunOnce(ctx)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Error("ratelimit_sweep_failed",
					zap.Error(err),
					zap.Int("removed", removed),
					zap.Int64("duration_ms", duration.Milliseconds()),
				)
				s.metrics.ObserveSweep("error", removed, duration.Seconds())
				continue
			}

			s.logger.Debug("ratelimit_sweep_completed",
				zap.Int("removed", removed),
				zap.Int64("duration_ms", duration.Milliseconds()),
			)
			s.metrics.ObserveSweep("success", removed, duration.Seconds())

		case <-ctx.Done():
			s.logger.Info("ratelimit_sweeper_stopping", zap.Error(ctx.Err()))
			return ctx.Err()
		}
	}
}

// RunOnce executes a single sweep. Logging is handled by the caller (Start).
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	return s.store.Sweep(ctx, s.now())
}
