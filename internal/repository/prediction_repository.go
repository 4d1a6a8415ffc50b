package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/dermascan/internal/logging"
)

// ErrNotFound is returned when no visible prediction matches.
var ErrNotFound = errors.New("prediction not found")

// PredictionRepository provides persistence APIs for predictions and their medicines.
type PredictionRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewPredictionRepository creates a new repository instance.
func NewPredictionRepository(db *gorm.DB, logger *zap.Logger) *PredictionRepository {
	return &PredictionRepository{
		db:             db,
		logger:         logger.Named("prediction_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *PredictionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Prediction{}, &Medicine{})
}

// CreateProvisional stores p in the provisional state.
func (r *PredictionRepository) CreateProvisional(ctx context.Context, p *Prediction) error {
	p.Status = StatusProvisional
	return r.executeWithRetry(ctx, "repository.create_provisional", p.ID, func() error {
		return r.db.WithContext(ctx).Create(p).Error
	})
}

// Finalize writes the classification onto a provisional prediction and attaches
// its medicines in one transaction, making the record visible to readers.
func (r *PredictionRepository) Finalize(ctx context.Context, p *Prediction, medicines []Medicine) error {
	return r.executeWithRetry(ctx, "repository.finalize", p.ID, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&Prediction{}).
				Where("id = ? AND status = ?", p.ID, StatusProvisional).
				Updates(map[string]interface{}{
					"predicted_label":  p.Label,
					"confidence_score": p.Confidence,
					"symptoms":         p.Symptoms,
					"recommendations":  p.Recommendations,
					"status":           StatusClassified,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return fmt.Errorf("provisional prediction %s: %w", p.ID, ErrNotFound)
			}

			for i := range medicines {
				medicines[i].ID = 0
				medicines[i].PredictionID = p.ID
			}
			if len(medicines) > 0 {
				if err := tx.Create(&medicines).Error; err != nil {
					return err
				}
			}
			p.Status = StatusClassified
			p.Medicines = medicines
			return nil
		})
	})
}

// Delete removes a prediction and its medicines in one transaction.
func (r *PredictionRepository) Delete(ctx context.Context, id string) error {
	return r.executeWithRetry(ctx, "repository.delete", id, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("prediction_id = ?", id).Delete(&Medicine{}).Error; err != nil {
				return err
			}
			return tx.Where("id = ?", id).Delete(&Prediction{}).Error
		})
	})
}

// FindByIDAndUser retrieves a classified prediction owned by userID.
func (r *PredictionRepository) FindByIDAndUser(ctx context.Context, id, userID string) (*Prediction, error) {
	var p Prediction
	err := r.db.WithContext(ctx).
		Preload("Medicines", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, StatusClassified).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, logging.NewOperationError("repository.find", id, err)
	}
	return &p, nil
}

// ListByUser returns the user's classified predictions, newest first.
func (r *PredictionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*Prediction, error) {
	var out []*Prediction
	q := r.db.WithContext(ctx).
		Preload("Medicines", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("user_id = ? AND status = ?", userID, StatusClassified).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, logging.NewOperationError("repository.list", "", err)
	}
	return out, nil
}

// CountByUser returns how many classified predictions the user owns.
func (r *PredictionRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Prediction{}).
		Where("user_id = ? AND status = ?", userID, StatusClassified).
		Count(&n).Error
	if err != nil {
		return 0, logging.NewOperationError("repository.count_user", "", err)
	}
	return n, nil
}

// FindStaleProvisional returns provisional predictions created before cutoff.
func (r *PredictionRepository) FindStaleProvisional(ctx context.Context, cutoff time.Time, limit int) ([]*Prediction, error) {
	var out []*Prediction
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", StatusProvisional, cutoff).
		Order("created_at").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, logging.NewOperationError("repository.find_stale", "", err)
	}
	return out, nil
}

// AggregateStats computes global statistics over classified predictions.
func (r *PredictionRepository) AggregateStats(ctx context.Context) (*Aggregation, error) {
	var rows []LabelCount
	err := r.db.WithContext(ctx).Model(&Prediction{}).
		Select("predicted_label AS label, COUNT(*) AS count").
		Where("status = ?", StatusClassified).
		Group("predicted_label").
		Order("predicted_label").
		Scan(&rows).Error
	if err != nil {
		return nil, logging.NewOperationError("repository.aggregate_stats", "", err)
	}

	agg := &Aggregation{ByLabel: rows}
	for _, row := range rows {
		agg.TotalCount += row.Count
	}
	return agg, nil
}

func (r *PredictionRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
