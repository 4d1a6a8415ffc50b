package usecase

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/dermascan/internal/classifier"
	"github.com/example/dermascan/internal/diagnosis"
	"github.com/example/dermascan/internal/enrichment"
	"github.com/example/dermascan/internal/model"
	"github.com/example/dermascan/internal/repository"
)

type stubRepository struct {
	mu          sync.Mutex
	records     map[string]*repository.Prediction
	createErr   error
	finalizeErr error
	deleteCalls int
}

func newStubRepository() *stubRepository {
	return &stubRepository{records: map[string]*repository.Prediction{}}
}

func (s *stubRepository) CreateProvisional(ctx context.Context, p *repository.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	p.Status = repository.StatusProvisional
	clone := *p
	s.records[p.ID] = &clone
	return nil
}

func (s *stubRepository) Finalize(ctx context.Context, p *repository.Prediction, medicines []repository.Medicine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizeErr != nil {
		return s.finalizeErr
	}
	stored, ok := s.records[p.ID]
	if !ok || stored.Status != repository.StatusProvisional {
		return repository.ErrNotFound
	}
	for i := range medicines {
		medicines[i].PredictionID = p.ID
	}
	p.Status = repository.StatusClassified
	p.Medicines = medicines
	clone := *p
	s.records[p.ID] = &clone
	return nil
}

func (s *stubRepository) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	delete(s.records, id)
	return nil
}

func (s *stubRepository) FindByIDAndUser(ctx context.Context, id, userID string) (*repository.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[id]
	if !ok || p.UserID != userID || p.Status != repository.StatusClassified {
		return nil, repository.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *stubRepository) visible(userID string) []*repository.Prediction {
	var out []*repository.Prediction
	for _, p := range s.records {
		if p.UserID == userID && p.Status == repository.StatusClassified {
			clone := *p
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *stubRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*repository.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.visible(userID)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.visible(userID))), nil
}

func (s *stubRepository) AggregateStats(ctx context.Context) (*repository.Aggregation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int64{}
	agg := &repository.Aggregation{}
	for _, p := range s.records {
		if p.Status == repository.StatusClassified {
			counts[p.Label]++
			agg.TotalCount++
		}
	}
	for label, n := range counts {
		agg.ByLabel = append(agg.ByLabel, repository.LabelCount{Label: label, Count: n})
	}
	return agg, nil
}

func (s *stubRepository) FindStaleProvisional(ctx context.Context, cutoff time.Time, limit int) ([]*repository.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.Prediction
	for _, p := range s.records {
		if p.Status == repository.StatusProvisional && p.CreatedAt.Before(cutoff) {
			clone := *p
			out = append(out, &clone)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *stubRepository) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type stubImageStore struct {
	mu      sync.Mutex
	files   map[string][]byte
	next    int
	saveErr error
}

func newStubImageStore() *stubImageStore {
	return &stubImageStore{files: map[string][]byte{}}
}

func (s *stubImageStore) Save(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return "", s.saveErr
	}
	s.next++
	path := "predictions/" + string(rune('a'+s.next)) + ".png"
	s.files[path] = append([]byte(nil), data...)
	return path, nil
}

func (s *stubImageStore) Read(ctx context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok {
		return nil, errors.New("no such image")
	}
	return data, nil
}

func (s *stubImageStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
	return nil
}

func (s *stubImageStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// stubClassifier replays results in order and then repeats the last one.
type stubClassifier struct {
	mu      sync.Mutex
	results []classifier.Result
	errs    []error
	calls   int
}

func (s *stubClassifier) Classify(ctx context.Context, input *model.Tensor) (classifier.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return classifier.Result{}, s.errs[i]
	}
	if len(s.results) == 0 {
		return classifier.Result{}, nil
	}
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], nil
}

type stubSuggester struct {
	suggestions []enrichment.Suggestion
	labels      []diagnosis.Label
}

func (s *stubSuggester) Suggest(ctx context.Context, label diagnosis.Label) []enrichment.Suggestion {
	s.labels = append(s.labels, label)
	if len(s.suggestions) == 0 {
		return []enrichment.Suggestion{enrichment.Fallback()}
	}
	return s.suggestions
}

type stubCache struct {
	mu      sync.Mutex
	values  map[string]string
	setErrs []error
	getErrs []error
	setKeys []string
}

func newStubCache() *stubCache {
	return &stubCache{values: map[string]string{}}
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) > 0 {
		err := s.setErrs[0]
		s.setErrs = s.setErrs[1:]
		if err != nil {
			return err
		}
	}
	s.values[key] = value.(string)
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.getErrs) > 0 {
		err := s.getErrs[0]
		s.getErrs = s.getErrs[1:]
		if err != nil {
			return "", err
		}
	}
	v, ok := s.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func validPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}
