package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/dermascan/internal/classifier"
	"github.com/example/dermascan/internal/diagnosis"
	"github.com/example/dermascan/internal/enrichment"
	"github.com/example/dermascan/internal/imageprocessor"
	"github.com/example/dermascan/internal/logging"
	"github.com/example/dermascan/internal/model"
	"github.com/example/dermascan/internal/repository"
)

// PredictionRepository defines the persistence operations needed by the use case.
type PredictionRepository interface {
	CreateProvisional(ctx context.Context, p *repository.Prediction) error
	Finalize(ctx context.Context, p *repository.Prediction, medicines []repository.Medicine) error
	Delete(ctx context.Context, id string) error
	FindByIDAndUser(ctx context.Context, id, userID string) (*repository.Prediction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*repository.Prediction, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
	AggregateStats(ctx context.Context) (*repository.Aggregation, error)
	FindStaleProvisional(ctx context.Context, cutoff time.Time, limit int) ([]*repository.Prediction, error)
}

// ImageStore assigns locations to uploaded images.
type ImageStore interface {
	Save(ctx context.Context, data []byte) (string, error)
	Read(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// ImageClassifier labels a normalized image tensor.
type ImageClassifier interface {
	Classify(ctx context.Context, input *model.Tensor) (classifier.Result, error)
}

// Pipeline states, logged as a run progresses.
const (
	stateReceived    = "received"
	stateProvisional = "provisional"
	stateClassifying = "classifying"
	stateClassified  = "classified"
	stateEnriching   = "enriching"
	statePersisted   = "persisted"
	stateAborted     = "aborted"
)

// PredictionUseCase runs the prediction pipeline and serves persisted results.
type PredictionUseCase struct {
	repo           PredictionRepository
	images         ImageStore
	classifier     ImageClassifier
	suggester      enrichment.Suggester
	cache          Cache
	metrics        *Metrics
	logger         *zap.Logger
	normalize      func([]byte) (*model.Tensor, error)
	now            func() time.Time
	resultTTL      time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewPredictionUseCase constructs a new use case instance. cache may be nil.
func NewPredictionUseCase(
	repo PredictionRepository,
	images ImageStore,
	classifier ImageClassifier,
	suggester enrichment.Suggester,
	cache Cache,
	metrics *Metrics,
	logger *zap.Logger,
) *PredictionUseCase {
	return &PredictionUseCase{
		repo:           repo,
		images:         images,
		classifier:     classifier,
		suggester:      suggester,
		cache:          cache,
		metrics:        metrics,
		logger:         logger.Named("prediction_usecase"),
		normalize:      imageprocessor.Normalize,
		now:            func() time.Time { return time.Now().UTC() },
		resultTTL:      5 * time.Minute,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// SetResultTTL overrides how long finalized predictions stay cached.
func (uc *PredictionUseCase) SetResultTTL(ttl time.Duration) {
	if ttl > 0 {
		uc.resultTTL = ttl
	}
}

// Predict classifies an uploaded image for userID and persists the enriched result.
// Failures before the record is finalized delete the provisional record and the
// stored image before the error is returned. Enrichment never fails a run.
func (uc *PredictionUseCase) Predict(ctx context.Context, userID string, image []byte) (*repository.Prediction, error) {
	id := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.predict", id).With(zap.String("user_id", userID))
	opLogger.Debug("pipeline state", zap.String("state", stateReceived), zap.Int("image_bytes", len(image)))

	path, err := uc.images.Save(ctx, image)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.store_image", id, &diagnosis.PersistenceError{Op: "store image", Err: err})
		uc.metrics.observeRun(wrapped)
		opLogger.Error("failed to store image", zap.Error(wrapped))
		return nil, wrapped
	}

	record := &repository.Prediction{
		ID:        id,
		UserID:    userID,
		ImagePath: path,
		Label:     string(diagnosis.LabelUnknown),
		CreatedAt: uc.now(),
	}
	if err := uc.repo.CreateProvisional(ctx, record); err != nil {
		uc.removeImage(context.WithoutCancel(ctx), opLogger, path)
		wrapped := logging.NewOperationError("usecase.create_provisional", id, &diagnosis.PersistenceError{Op: "create provisional record", Err: err})
		uc.metrics.observeRun(wrapped)
		opLogger.Error("failed to persist provisional record", zap.Error(wrapped))
		return nil, wrapped
	}
	opLogger.Debug("pipeline state", zap.String("state", stateProvisional), zap.String("image_path", path))

	result, err := uc.classify(ctx, opLogger, record)
	if err != nil {
		return nil, uc.abort(ctx, opLogger, record, err)
	}

	info := diagnosis.Describe(result.Label)
	record.Label = string(result.Label)
	record.Confidence = result.Confidence
	record.Symptoms = info.Symptoms
	record.Recommendations = info.Recommendations
	opLogger.Info("pipeline state",
		zap.String("state", stateClassified),
		zap.String("label", record.Label),
		zap.Float64("confidence", record.Confidence))

	opLogger.Debug("pipeline state", zap.String("state", stateEnriching))
	suggestions := uc.suggester.Suggest(ctx, result.Label)
	if enrichment.IsFallback(suggestions) {
		uc.metrics.observeEnrichmentFallback()
		opLogger.Warn("enrichment degraded to fallback suggestion")
	}

	if err := uc.repo.Finalize(ctx, record, toMedicines(suggestions)); err != nil {
		return nil, uc.abort(ctx, opLogger, record, &diagnosis.PersistenceError{Op: "finalize record", Err: err})
	}

	uc.cacheResult(ctx, opLogger, record)
	uc.metrics.observeRun(nil)
	opLogger.Info("pipeline state", zap.String("state", statePersisted), zap.Int("medicines", len(record.Medicines)))
	return record, nil
}

func (uc *PredictionUseCase) classify(ctx context.Context, opLogger *zap.Logger, record *repository.Prediction) (classifier.Result, error) {
	opLogger.Debug("pipeline state", zap.String("state", stateClassifying))

	raw, err := uc.images.Read(ctx, record.ImagePath)
	if err != nil {
		return classifier.Result{}, &diagnosis.PersistenceError{Op: "read stored image", Err: err}
	}

	tensor, err := uc.normalize(raw)
	if err != nil {
		return classifier.Result{}, err
	}

	start := time.Now()
	result, err := uc.classifier.Classify(ctx, tensor)
	uc.metrics.observeInference(time.Since(start))
	if err != nil {
		return classifier.Result{}, err
	}

	if !result.Label.Known() || result.Confidence <= 0 {
		return classifier.Result{}, &diagnosis.InferenceError{
			Reason: fmt.Sprintf("no usable classification (label=%s confidence=%.4f)", result.Label, result.Confidence),
		}
	}
	return result, nil
}

// abort deletes the provisional record and its image, then returns cause wrapped
// with the run's identity. Cleanup ignores cancellation of the request context.
func (uc *PredictionUseCase) abort(ctx context.Context, opLogger *zap.Logger, record *repository.Prediction, cause error) error {
	ctx = context.WithoutCancel(ctx)
	kind := diagnosis.KindOf(cause)

	if err := uc.repo.Delete(ctx, record.ID); err != nil {
		opLogger.Error("failed to delete provisional record", zap.Error(err))
	}
	uc.removeImage(ctx, opLogger, record.ImagePath)

	uc.metrics.observeRun(cause)
	wrapped := logging.NewOperationError("usecase.predict", record.ID, cause)
	opLogger.Warn("pipeline state",
		zap.String("state", stateAborted),
		zap.String("error_kind", kind.String()),
		zap.Error(cause))
	return wrapped
}

func (uc *PredictionUseCase) removeImage(ctx context.Context, opLogger *zap.Logger, path string) {
	if err := uc.images.Delete(ctx, path); err != nil {
		opLogger.Error("failed to delete stored image", zap.String("image_path", path), zap.Error(err))
	}
}

func toMedicines(suggestions []enrichment.Suggestion) []repository.Medicine {
	out := make([]repository.Medicine, 0, len(suggestions))
	for _, s := range suggestions {
		out = append(out, repository.Medicine{
			Name:         s.Name,
			GenericName:  s.GenericName,
			DosageForm:   s.DosageForm,
			Manufacturer: s.Manufacturer,
			Description:  s.Description,
			SideEffects:  s.SideEffects,
		})
	}
	return out
}

// GetPrediction retrieves a finalized prediction from the cache or from persistence.
func (uc *PredictionUseCase) GetPrediction(ctx context.Context, userID, id string) (*repository.Prediction, error) {
	if uc.cache != nil {
		cached, err := uc.withRedisGet(ctx, id, "cache.get.result", cacheKey(id))
		switch {
		case err == nil:
			var p repository.Prediction
			if err := json.Unmarshal([]byte(cached), &p); err != nil {
				logging.WithOperation(uc.logger, "usecase.get_prediction", id).Warn("failed to decode cached result", zap.Error(err))
			} else if p.UserID == userID {
				return &p, nil
			}
		case !errors.Is(err, redis.Nil):
			logging.WithOperation(uc.logger, "usecase.get_prediction", id).Warn("failed to read cache", zap.Error(err))
		}
	}

	return uc.repo.FindByIDAndUser(ctx, id, userID)
}

// ListPredictions returns the user's predictions, newest first.
func (uc *PredictionUseCase) ListPredictions(ctx context.Context, userID string) ([]*repository.Prediction, error) {
	return uc.repo.ListByUser(ctx, userID, 0)
}

func (uc *PredictionUseCase) cacheResult(ctx context.Context, opLogger *zap.Logger, record *repository.Prediction) {
	if uc.cache == nil {
		return
	}
	serialized, err := json.Marshal(record)
	if err != nil {
		opLogger.Warn("failed to serialize prediction for cache", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, record.ID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey(record.ID), string(serialized), uc.resultTTL)
	}); err != nil {
		opLogger.Warn("failed to cache prediction", zap.Error(err))
	}
}

func cacheKey(id string) string {
	return "prediction:" + id
}
