package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/dermascan/internal/logging"
)

const sweepBatchSize = 100

// Sweeper removes provisional predictions left behind by runs that never
// finished, e.g. because the process died between the provisional save and the
// final update.
type Sweeper struct {
	repo     PredictionRepository
	images   ImageStore
	metrics  *Metrics
	logger   *zap.Logger
	grace    time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewSweeper builds a sweeper that reaps provisional records older than grace
// every interval.
func NewSweeper(repo PredictionRepository, images ImageStore, metrics *Metrics, grace, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		repo:     repo,
		images:   images,
		metrics:  metrics,
		logger:   logger.Named("sweeper"),
		grace:    grace,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SweepOnce deletes every stale provisional record and its image and returns
// how many records were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.grace)
	removed := 0

	for {
		stale, err := s.repo.FindStaleProvisional(ctx, cutoff, sweepBatchSize)
		if err != nil {
			return removed, err
		}
		if len(stale) == 0 {
			break
		}

		batchRemoved := 0
		for _, p := range stale {
			opLogger := logging.WithOperation(s.logger, "sweeper.reap", p.ID)
			if err := s.repo.Delete(ctx, p.ID); err != nil {
				opLogger.Error("failed to delete orphaned provisional record", zap.Error(err))
				continue
			}
			if err := s.images.Delete(ctx, p.ImagePath); err != nil {
				opLogger.Warn("failed to delete orphaned image", zap.String("image_path", p.ImagePath), zap.Error(err))
			}
			batchRemoved++
		}
		removed += batchRemoved
		s.metrics.observeSwept(batchRemoved)

		// a batch where nothing could be deleted would be returned again
		if batchRemoved == 0 || len(stale) < sweepBatchSize {
			break
		}
	}

	if removed > 0 {
		s.logger.Info("reaped orphaned provisional predictions", zap.Int("count", removed), zap.Time("cutoff", cutoff))
	}
	return removed, nil
}

// Run sweeps immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
