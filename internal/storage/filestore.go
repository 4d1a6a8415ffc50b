// Package storage keeps uploaded images on the local filesystem.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const predictionDir = "predictions"

// ErrOutsideRoot is returned for paths that escape the storage root.
var ErrOutsideRoot = errors.New("path escapes storage root")

// FileStore writes images below a root directory and addresses them by a
// slash-separated path relative to that root.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(root, predictionDir), 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Save assigns a new location for data, writes it and returns the location.
func (s *FileStore) Save(_ context.Context, data []byte) (string, error) {
	ext := mimetype.Detect(data).Extension()
	rel := predictionDir + "/" + uuid.NewString() + ext

	full, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return rel, nil
}

// Read returns the bytes stored at path.
func (s *FileStore) Read(_ context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// Delete removes the image at path. Deleting a missing image is not an error.
func (s *FileStore) Delete(_ context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

func (s *FileStore) resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", ErrOutsideRoot
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return filepath.Join(s.root, cleaned), nil
}
