package logging

import (
	"errors"
	"testing"
)

func TestNewOperationErrorNil(t *testing.T) {
	if err := NewOperationError("repository.save", "abc", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("repository.save", "abc", base)

	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error to match base")
	}
	if got := err.Error(); got != "repository.save (prediction_id=abc): boom" {
		t.Fatalf("unexpected message: %s", got)
	}

	bare := NewOperationError("storage.delete", "", base)
	if got := bare.Error(); got != "storage.delete: boom" {
		t.Fatalf("unexpected message: %s", got)
	}
}

func TestNewLoggerRejectsInvalidLevel(t *testing.T) {
	if _, err := NewLogger("loud"); err == nil {
		t.Fatal("expected error for invalid level")
	}
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = logger.Sync()
}
