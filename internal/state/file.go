// Package state persists result states: the reference a query task leaves
// behind so later runs know its work is done.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"bqflow/internal/domain"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

func validateKey(key string) error {
	if !keyPattern.MatchString(key) || strings.Contains(key, "..") || strings.HasSuffix(key, "/") {
		return domain.ErrValidation("invalid result key %q", key)
	}
	return nil
}

var _ domain.StateStore = (*FileStore)(nil)

// FileStore keeps one JSON file per key under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key)+".json")
}

// Get reads the state saved under key.
func (s *FileStore) Get(_ context.Context, key string) (*domain.ResultState, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound("result state %q not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("read result state %q: %w", key, err)
	}
	var st domain.ResultState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode result state %q: %w", key, err)
	}
	return &st, nil
}

// Put writes st under key, replacing any previous state atomically.
func (s *FileStore) Put(_ context.Context, key string, st *domain.ResultState) error {
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result state %q: %w", key, err)
	}

	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*")
	if err != nil {
		return fmt.Errorf("write result state %q: %w", key, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write result state %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write result state %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write result state %q: %w", key, err)
	}
	return nil
}

// Exists reports whether a state was saved under key.
func (s *FileStore) Exists(_ context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat result state %q: %w", key, err)
	}
	return true, nil
}
