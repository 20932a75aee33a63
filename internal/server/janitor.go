package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fupingyezi/mini-DeepResearch/internal/cache"
)

const janitorLockKey = "deepresearch:lock:checkpoint-prune"

// Pruner drops checkpoints written before cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor prunes old checkpoints on a cron schedule. With a redis client
// only one replica prunes per tick.
type Janitor struct {
	Pruner    Pruner
	Retention time.Duration
	Redis     *redis.Client
	Logger    *zap.Logger

	schedule *cronexpr.Expression
	now      func() time.Time
}

// NewJanitor parses schedule, a standard five field cron expression.
func NewJanitor(p Pruner, schedule string, retention time.Duration, rdb *redis.Client, logger *zap.Logger) (*Janitor, error) {
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("checkpoint.prune_schedule: %w", err)
	}
	if retention <= 0 {
		return nil, fmt.Errorf("checkpoint.retention must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		Pruner:    p,
		Retention: retention,
		Redis:     rdb,
		Logger:    logger,
		schedule:  expr,
		now:       time.Now,
	}, nil
}

// Next is the next prune time after t.
func (j *Janitor) Next(t time.Time) time.Time {
	return j.schedule.Next(t)
}

// Run prunes at every scheduled time until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	for {
		next := j.Next(j.now())
		if next.IsZero() {
			j.Logger.Warn("prune schedule has no future run")
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := j.PruneOnce(ctx); err != nil && ctx.Err() == nil {
			j.Logger.Error("checkpoint prune failed", zap.Error(err))
		}
	}
}

// PruneOnce drops checkpoints older than the retention window. It returns 0
// without pruning when another replica holds the lock.
func (j *Janitor) PruneOnce(ctx context.Context) (int64, error) {
	if j.Redis != nil {
		release, acquired, err := cache.TryLock(ctx, j.Redis, janitorLockKey, 5*time.Minute)
		if err != nil {
			return 0, fmt.Errorf("acquire prune lock: %w", err)
		}
		if !acquired {
			j.Logger.Debug("prune skipped, lock held elsewhere")
			return 0, nil
		}
		defer release()
	}
	cutoff := j.now().Add(-j.Retention)
	n, err := j.Pruner.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	j.Logger.Info("pruned checkpoints", zap.Int64("removed", n), zap.Time("cutoff", cutoff))
	return n, nil
}
