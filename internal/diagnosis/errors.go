package diagnosis

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures so callers can decide on rollback and
// on the user-facing response without inspecting concrete error types.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindDecode
	KindInference
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindDecode:
		return "decode"
	case KindInference:
		return "inference"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// ModelLoadError reports that the model artifact could not be loaded.
type ModelLoadError struct {
	Location string
	Err      error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("model unavailable at %s: %v", e.Location, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// ImageDecodeError reports bytes that are not a decodable image.
type ImageDecodeError struct {
	Err error
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("cannot decode image: %v", e.Err)
}

func (e *ImageDecodeError) Unwrap() error { return e.Err }

// InferenceError reports a model run that produced no usable output.
type InferenceError struct {
	Reason string
	Err    error
}

func (e *InferenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inference failed: %s: %v", e.Reason, e.Err)
	}
	return "inference failed: " + e.Reason
}

func (e *InferenceError) Unwrap() error { return e.Err }

// PersistenceError reports a storage layer failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// KindOf returns the taxonomy kind of err, looking through wrapping.
func KindOf(err error) Kind {
	var (
		loadErr    *ModelLoadError
		decodeErr  *ImageDecodeError
		inferErr   *InferenceError
		persistErr *PersistenceError
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &loadErr):
		return KindConfig
	case errors.As(err, &decodeErr):
		return KindDecode
	case errors.As(err, &inferErr):
		return KindInference
	case errors.As(err, &persistErr):
		return KindPersistence
	default:
		return KindUnknown
	}
}
