package billing

import (
	"context"
	"log/slog"
	"time"

	"call-billing/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sweepGuardKey = "billing:sweep:guard"

// Scheduler drives the billing sweep on a fixed interval.
//
// The Redis guard suppresses overlapping sweeps across replicas. It is
// best-effort only: the minute claim makes concurrent sweeps safe, the guard
// just avoids wasted work, so a Redis outage degrades to unguarded sweeps
// rather than stopping billing.
type Scheduler struct {
	engine   *Engine
	rdb      *redis.Client
	interval time.Duration
	guardTTL time.Duration
	log      *slog.Logger
}

func NewScheduler(engine *Engine, rdb *redis.Client, interval, guardTTL time.Duration, log *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if guardTTL <= 0 {
		guardTTL = 2 * interval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{engine: engine, rdb: rdb, interval: interval, guardTTL: guardTTL, log: log}
}

// Run blocks until ctx is canceled, sweeping once per interval.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.log.Info("billing sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("billing sweeper stopped")
			return
		case <-t.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single guarded sweep pass.
func (s *Scheduler) RunOnce(ctx context.Context) {
	token := uuid.NewString()
	guarded := false

	if s.rdb != nil {
		ok, err := utils.AcquireSingleFlight(ctx, s.rdb, sweepGuardKey, token, s.guardTTL)
		if err != nil {
			s.log.Warn("sweep guard unavailable, sweeping unguarded", "err", err)
		} else if !ok {
			s.log.Debug("sweep already running elsewhere, skipping")
			return
		} else {
			guarded = true
		}
	}
	if guarded {
		defer func() {
			if err := utils.ReleaseSingleFlight(ctx, s.rdb, sweepGuardKey, token); err != nil {
				s.log.Warn("sweep guard release failed", "err", err)
			}
		}()
	}

	summary, err := s.engine.ProcessActiveCalls(ctx)
	if err != nil {
		s.log.Error("billing sweep failed", "err", err)
		return
	}
	if summary.Processed > 0 || len(summary.Errors) > 0 {
		s.log.Info("billing sweep finished",
			"processed", summary.Processed,
			"billed", summary.Billed,
			"insufficient", summary.Insufficient,
			"timed_out", summary.TimedOut,
			"errors", len(summary.Errors),
		)
	}
}
