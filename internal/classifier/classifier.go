// Package classifier derives a label and confidence from the model's output.
package classifier

import (
	"context"
	"fmt"
	"math"

	"github.com/example/dermascan/internal/diagnosis"
	"github.com/example/dermascan/internal/model"
)

// Result is a single classification outcome.
type Result struct {
	Label      diagnosis.Label
	Confidence float64 // percentage in [0, 100]
}

// ModelProvider yields the model to run; *model.Handle satisfies it.
type ModelProvider interface {
	Get(ctx context.Context) (model.Model, error)
}

// Classifier runs tensors through the shared model.
type Classifier struct {
	models ModelProvider
}

// New returns a classifier backed by the given model provider.
func New(models ModelProvider) *Classifier {
	return &Classifier{models: models}
}

// Classify returns the highest scoring label and its probability as a percentage.
// A model that cannot be loaded yields *diagnosis.ModelLoadError; a run without
// usable output yields *diagnosis.InferenceError.
func (c *Classifier) Classify(ctx context.Context, input *model.Tensor) (Result, error) {
	m, err := c.models.Get(ctx)
	if err != nil {
		return Result{}, err
	}

	probs, err := m.Predict(ctx, input)
	if err != nil {
		return Result{}, &diagnosis.InferenceError{Reason: "model invocation failed", Err: err}
	}
	return Interpret(probs)
}

// Interpret applies argmax to a probability vector with one score per label.
// Ties resolve to the lowest index.
func Interpret(probs []float32) (Result, error) {
	if len(probs) == 0 {
		return Result{}, &diagnosis.InferenceError{Reason: "model returned an empty output"}
	}
	if len(probs) != diagnosis.NumLabels {
		return Result{}, &diagnosis.InferenceError{
			Reason: fmt.Sprintf("model returned %d scores, want %d", len(probs), diagnosis.NumLabels),
		}
	}

	best := 0
	for i, p := range probs {
		if math.IsNaN(float64(p)) {
			return Result{}, &diagnosis.InferenceError{Reason: "model output contains NaN"}
		}
		if p > probs[best] {
			best = i
		}
	}

	top := float64(probs[best])
	if top < 0 || top > 1+1e-4 {
		return Result{}, &diagnosis.InferenceError{Reason: "model output is not a probability"}
	}

	return Result{
		Label:      diagnosis.LabelForIndex(best),
		Confidence: math.Min(top*100, 100),
	}, nil
}
