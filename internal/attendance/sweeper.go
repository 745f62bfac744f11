package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rollcall/internal/metrics"
)

// Sweeper closes sessions whose hard deadline has passed. It is advisory:
// the registry and gatekeeper re-check expiry on every call, so correctness
// never depends on sweep timing.
type Sweeper struct {
	store Store
	log   *slog.Logger
}

// NewSweeper creates a sweeper.
func NewSweeper(store Store, log *slog.Logger) *Sweeper {
	return &Sweeper{store: store, log: log}
}

// Sweep performs one pass and returns how many sessions it closed. The
// audit entry is one batched row per tick; a failed audit write is logged
// and swallowed, it never fails the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	ids, err := s.store.SweepExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := s.store.InsertSweepAudit(ctx, ids, now); err != nil {
		s.log.Error("sweep audit write failed", "error", err, "closed", len(ids))
	}
	metrics.SessionsSwept.Add(float64(len(ids)))
	s.log.Info("expired sessions closed", "count", len(ids), "session_ids", ids)
	return len(ids), nil
}

// Scheduler runs the sweeper on a fixed interval until its context ends.
type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	log      *slog.Logger
}

// NewScheduler creates a scheduler; interval defaults to one minute.
func NewScheduler(sweeper *Sweeper, interval time.Duration, log *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{sweeper: sweeper, interval: interval, log: log}
}

// Run blocks, sweeping on every tick, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("sweep scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweep scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.sweeper.Sweep(ctx); err != nil {
				s.log.Error("sweep failed", "error", err)
			}
		}
	}
}
