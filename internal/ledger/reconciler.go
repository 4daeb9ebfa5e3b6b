package ledger

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReconcilerConfig bounds a sweep.
type ReconcilerConfig struct {
	// BatchSize is how many conversation ids are read per query.
	BatchSize int64
	// Workers bounds concurrent Reconcile calls.
	Workers int
	// RatePerSecond paces Reconcile calls across all workers. Zero means
	// unlimited.
	RatePerSecond float64
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Scanned int64
	Failed  int64
}

// Reconciler sweeps every conversation through Ledger.Reconcile.
type Reconciler struct {
	ledger  *Ledger
	cfg     ReconcilerConfig
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewReconciler returns a Reconciler for l.
func NewReconciler(l *Ledger, cfg ReconcilerConfig) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &Reconciler{
		ledger:  l,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Workers),
		log:     l.log.Named("reconciler"),
	}
}

// Run reconciles every conversation once. Per-conversation failures are
// logged and counted; only cancellation or a failed id scan stops the sweep.
func (r *Reconciler) Run(ctx context.Context) (SweepStats, error) {
	var scanned, failed atomic.Int64
	after := bson.NilObjectID

	for {
		ids, err := r.ledger.convs.ConversationIDsAfter(ctx, after, r.cfg.BatchSize)
		if err != nil {
			return SweepStats{Scanned: scanned.Load(), Failed: failed.Load()}, err
		}
		if len(ids) == 0 {
			break
		}

		p := pool.New().WithContext(ctx).WithMaxGoroutines(r.cfg.Workers)
		for _, id := range ids {
			p.Go(func(ctx context.Context) error {
				if err := r.limiter.Wait(ctx); err != nil {
					return err
				}
				scanned.Add(1)
				if err := r.ledger.Reconcile(ctx, id); err != nil {
					failed.Add(1)
					r.log.Warn("reconcile failed", zap.String("conversation", id.Hex()), zap.Error(err))
				}
				return nil
			})
		}
		if err := p.Wait(); err != nil {
			return SweepStats{Scanned: scanned.Load(), Failed: failed.Load()}, err
		}

		after = ids[len(ids)-1]
		if int64(len(ids)) < r.cfg.BatchSize {
			break
		}
	}

	stats := SweepStats{Scanned: scanned.Load(), Failed: failed.Load()}
	r.log.Info("reconcile sweep finished",
		zap.Int64("scanned", stats.Scanned),
		zap.Int64("failed", stats.Failed))
	return stats, nil
}

// Loop runs a sweep every interval until ctx is done.
func (r *Reconciler) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("reconcile sweep aborted", zap.Error(err))
			}
		}
	}
}
