// Package model owns the inference resource used to classify images.
//
// A Handle loads the model lazily on first use and then shares the same
// read-only instance with every caller for the rest of the process lifetime.
// A failed load is not remembered, so a later call retries it.
package model

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/dermascan/internal/diagnosis"
)

// Input geometry expected by the classifier.
const (
	InputHeight   = 224
	InputWidth    = 224
	InputChannels = 3
)

// Tensor is a dense float32 tensor in NHWC order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Model runs inference on a single tensor and returns the probability vector.
// Implementations must be safe for concurrent use.
type Model interface {
	Predict(ctx context.Context, input *Tensor) ([]float32, error)
	Close() error
}

// Loader produces a ready Model from a configured location.
type Loader interface {
	Load(ctx context.Context) (Model, error)
	Location() string
}

// Handle is the process-wide, lazily initialized model.
type Handle struct {
	loader Loader
	logger *zap.Logger

	mu    sync.Mutex
	model Model
}

// NewHandle constructs a handle; nothing is loaded until Get is called.
func NewHandle(loader Loader, logger *zap.Logger) *Handle {
	return &Handle{loader: loader, logger: logger.Named("model")}
}

// Get returns the cached model, loading it first if needed. Concurrent callers
// block on a single load; errors are returned as *diagnosis.ModelLoadError and
// leave the handle empty.
func (h *Handle) Get(ctx context.Context) (Model, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.model != nil {
		return h.model, nil
	}

	start := time.Now()
	m, err := h.loader.Load(ctx)
	if err == nil && m == nil {
		err = errors.New("loader returned no model")
	}
	if err != nil {
		var loadErr *diagnosis.ModelLoadError
		if !errors.As(err, &loadErr) {
			err = &diagnosis.ModelLoadError{Location: h.loader.Location(), Err: err}
		}
		h.logger.Error("model load failed", zap.String("location", h.loader.Location()), zap.Error(err))
		return nil, err
	}

	h.model = m
	h.logger.Info("model loaded",
		zap.String("location", h.loader.Location()),
		zap.Duration("elapsed", time.Since(start)))
	return m, nil
}

// Loaded reports whether a model is currently cached.
func (h *Handle) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.model != nil
}

// Close releases the cached model at process shutdown.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.model == nil {
		return nil
	}
	err := h.model.Close()
	h.model = nil
	return err
}
