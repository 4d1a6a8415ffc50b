package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/dermascan/internal/logging"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func newTestRepository(t *testing.T) *PredictionRepository {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := NewPredictionRepository(db, zap.NewNop())
	if err := repo.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return repo
}

func provisional(userID string, createdAt time.Time) *Prediction {
	return &Prediction{
		ID:        uuid.NewString(),
		UserID:    userID,
		ImagePath: "predictions/" + uuid.NewString() + ".png",
		Label:     "unknown",
		CreatedAt: createdAt,
	}
}

func countRows(t *testing.T, repo *PredictionRepository, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := repo.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := &PredictionRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "pred-1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := &PredictionRepository{
		logger:         zap.NewNop(),
		retryAttempts:  2,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "pred-2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.RequestID != "pred-2" {
		t.Fatalf("unexpected request id: %s", opErr.RequestID)
	}
}

func TestProvisionalPredictionIsInvisible(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	p := provisional("user-1", time.Now().UTC())

	if err := repo.CreateProvisional(ctx, p); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if p.Status != StatusProvisional {
		t.Fatalf("expected provisional status, got %s", p.Status)
	}

	if _, err := repo.FindByIDAndUser(ctx, p.ID, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	list, err := repo.ListByUser(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no visible predictions, got %d", len(list))
	}
}

func TestFinalizeMakesPredictionVisible(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	p := provisional("user-1", time.Now().UTC())
	if err := repo.CreateProvisional(ctx, p); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	p.Label = "melanoma"
	p.Confidence = 87.5
	p.Symptoms = "s"
	p.Recommendations = "r"
	meds := []Medicine{{Name: "A"}, {Name: "B"}}
	if err := repo.Finalize(ctx, p, meds); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	got, err := repo.FindByIDAndUser(ctx, p.ID, "user-1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if got.Label != "melanoma" || got.Confidence != 87.5 || got.Status != StatusClassified {
		t.Fatalf("unexpected prediction: %+v", got)
	}
	if len(got.Medicines) != 2 || got.Medicines[0].Name != "A" || got.Medicines[1].PredictionID != p.ID {
		t.Fatalf("unexpected medicines: %+v", got.Medicines)
	}

	if _, err := repo.FindByIDAndUser(ctx, p.ID, "someone-else"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected owner check to hide prediction, got %v", err)
	}
}

func TestFinalizeRequiresProvisionalRecord(t *testing.T) {
	repo := newTestRepository(t)
	p := provisional("user-1", time.Now().UTC())
	p.Label = "benign"

	err := repo.Finalize(context.Background(), p, []Medicine{{Name: "A"}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := countRows(t, repo, &Medicine{}); n != 0 {
		t.Fatalf("expected no medicines after failed finalize, got %d", n)
	}
}

func TestDeleteRemovesPredictionAndMedicines(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	p := provisional("user-1", time.Now().UTC())
	if err := repo.CreateProvisional(ctx, p); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	p.Label = "benign"
	p.Confidence = 60
	if err := repo.Finalize(ctx, p, []Medicine{{Name: "A"}}); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	if err := repo.Delete(ctx, p.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if n := countRows(t, repo, &Prediction{}); n != 0 {
		t.Fatalf("expected no predictions, got %d", n)
	}
	if n := countRows(t, repo, &Medicine{}); n != 0 {
		t.Fatalf("expected no medicines, got %d", n)
	}
}

func TestListByUserOrdersNewestFirst(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, label := range []string{"benign", "melanoma", "dermatofibroma"} {
		p := provisional("user-1", base.Add(time.Duration(i)*time.Hour))
		if err := repo.CreateProvisional(ctx, p); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		p.Label = label
		p.Confidence = 50
		if err := repo.Finalize(ctx, p, nil); err != nil {
			t.Fatalf("finalize failed: %v", err)
		}
	}
	other := provisional("user-2", base)
	if err := repo.CreateProvisional(ctx, other); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	other.Label = "benign"
	other.Confidence = 90
	if err := repo.Finalize(ctx, other, nil); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	list, err := repo.ListByUser(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].Label != "dermatofibroma" || list[1].Label != "melanoma" {
		t.Fatalf("unexpected order: %+v", list)
	}

	n, err := repo.CountByUser(ctx, "user-1")
	if err != nil || n != 3 {
		t.Fatalf("expected 3 predictions, got %d (%v)", n, err)
	}

	agg, err := repo.AggregateStats(ctx)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if agg.TotalCount != 4 {
		t.Fatalf("expected total 4, got %d", agg.TotalCount)
	}
	if len(agg.ByLabel) != 3 || agg.ByLabel[0].Label != "benign" || agg.ByLabel[0].Count != 2 {
		t.Fatalf("unexpected label counts: %+v", agg.ByLabel)
	}
}

func TestFindStaleProvisional(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := provisional("user-1", now.Add(-time.Hour))
	fresh := provisional("user-1", now)
	for _, p := range []*Prediction{stale, fresh} {
		if err := repo.CreateProvisional(ctx, p); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	found, err := repo.FindStaleProvisional(ctx, now.Add(-10*time.Minute), 10)
	if err != nil {
		t.Fatalf("find stale failed: %v", err)
	}
	if len(found) != 1 || found[0].ID != stale.ID {
		t.Fatalf("unexpected stale set: %+v", found)
	}
}
