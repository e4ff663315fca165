// Package blob stores originals and thumbnails on the local filesystem.
// Paths are composed as <root>/<group_id>/<filename>; the same layout the
// rest of the pipeline and the thumbnail builder assume.
package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store is the blob-store contract used by the ingest path.
type Store interface {
	Put(path string, r io.Reader) (int64, error)
	Get(path string) (io.ReadCloser, error)
	Delete(path string) error
	AbsPath(path string) string
}

// FSStore is a filesystem-backed Store rooted at a single directory.
type FSStore struct {
	root string
}

// NewFSStore creates a store rooted at dir, creating it if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if !filepath.IsAbs(dir) {
		return nil, fmt.Errorf("storage root must be absolute, got %q", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FSStore{root: dir}, nil
}

// AbsPath resolves a store-relative path to an absolute filesystem path.
func (s *FSStore) AbsPath(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// Put writes the reader's contents to the given relative path, creating
// parent directories. Returns the number of bytes written.
func (s *FSStore) Put(path string, r io.Reader) (int64, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.Create(abs)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(abs)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	return n, nil
}

// Get opens the blob at the given relative path.
func (s *FSStore) Get(path string) (io.ReadCloser, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

// Delete removes the blob at the given relative path. Deleting a missing
// blob is not an error.
func (s *FSStore) Delete(path string) error {
	abs, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// resolve joins path onto the root and rejects traversal outside it.
func (s *FSStore) resolve(path string) (string, error) {
	abs := filepath.Join(s.root, filepath.FromSlash(path))
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes storage root", path)
	}
	return abs, nil
}
