package marker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileStore keeps a marker as a file at <dir>/<scope>/<name>.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore. The directory is created on Set.
func NewFileStore(dir, scope, name string) (*FileStore, error) {
	if name == "" {
		return nil, fmt.Errorf("marker name is required")
	}
	return &FileStore{path: filepath.Join(dir, scope, name)}, nil
}

// Path returns the marker file location.
func (s *FileStore) Path() string {
	return s.path
}

// Has reports whether the marker file exists.
func (s *FileStore) Has(ctx context.Context) (bool, error) {
	_, err := os.Stat(s.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat marker %s: %w", s.path, err)
}

// Set writes the marker file atomically.
func (s *FileStore) Set(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".marker-*")
	if err != nil {
		return fmt.Errorf("failed to create marker: %w", err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.WriteString(time.Now().UTC().Format(time.RFC3339) + "\n")
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmpName)
		if werr != nil {
			return fmt.Errorf("failed to write marker: %w", werr)
		}
		return fmt.Errorf("failed to write marker: %w", cerr)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit marker %s: %w", s.path, err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}
