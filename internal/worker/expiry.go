package worker

import (
	"context"
	"log/slog"
	"time"
)

// Expirer expires pending suggestions past their expiry time.
type Expirer interface {
	Expire(ctx context.Context) (int64, error)
}

// IdempotencyStore defines the store operations needed to prune the shared
// idempotency set.
type IdempotencyStore interface {
	CleanExpiredIdempotency(ctx context.Context, now time.Time) (int64, error)
}

// ExpiryWorker periodically expires stale pending suggestions and prunes
// expired idempotency keys.
type ExpiryWorker struct {
	expirer  Expirer
	keys     IdempotencyStore
	interval time.Duration
}

// NewExpiryWorker creates a worker. keys may be nil when idempotency keys are
// held in memory.
func NewExpiryWorker(expirer Expirer, keys IdempotencyStore, interval time.Duration) *ExpiryWorker {
	return &ExpiryWorker{
		expirer:  expirer,
		keys:     keys,
		interval: interval,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
// Does NOT run immediately on start.
func (w *ExpiryWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "suggestion-expiry",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "suggestion-expiry",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single sweep.
func (w *ExpiryWorker) RunOnce(ctx context.Context) {
	start := time.Now()

	expired, err := w.expirer.Expire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("expiry failed",
			"component", "worker",
			"action", "expiry_failed",
			"error", err,
		)
		return
	}

	var pruned int64
	if w.keys != nil {
		pruned, err = w.keys.CleanExpiredIdempotency(ctx, start.UTC())
		if err != nil && ctx.Err() == nil {
			slog.Warn("idempotency cleanup failed",
				"component", "worker",
				"action", "idempotency_cleanup_failed",
				"error", err,
			)
		}
	}

	slog.Info("expiry cycle completed",
		"component", "worker",
		"action", "expiry_complete",
		"expired", expired,
		"idempotency_pruned", pruned,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
