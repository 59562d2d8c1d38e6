// Package storage keeps component asset content on the local filesystem.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a blob reference points at nothing.
var ErrNotFound = errors.New("blob not found")

// LocalStorage stores asset blobs under basePath. A blob reference is the
// slash separated path relative to basePath.
type LocalStorage struct {
	basePath string
}

func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// Save stores the content of one asset of repository and returns its blob
// reference and size.
func (s *LocalStorage) Save(_ context.Context, repository, filename string, reader io.Reader) (string, int64, error) {
	filename = path.Base(filepath.ToSlash(filename))
	if filename == "." || filename == "/" || filename == ".." {
		return "", 0, fmt.Errorf("invalid filename %q", filename)
	}
	ref := path.Join(repository, uuid.New().String(), filename)
	full, err := s.resolve(ref)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", 0, fmt.Errorf("create dir: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return "", 0, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, reader)
	if err != nil {
		return "", 0, fmt.Errorf("write file: %w", err)
	}
	return ref, n, nil
}

// Open returns the content of ref. The caller closes the reader.
func (s *LocalStorage) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	full, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (s *LocalStorage) Delete(_ context.Context, ref string) error {
	full, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	// Try to remove the blob dir if empty
	_ = os.Remove(filepath.Dir(full))
	return nil
}

// resolve maps ref onto the filesystem, refusing references that leave basePath.
func (s *LocalStorage) resolve(ref string) (string, error) {
	clean := path.Clean("/" + filepath.ToSlash(ref))
	if clean == "/" || strings.Contains(ref, "\x00") {
		return "", fmt.Errorf("invalid blob reference %q", ref)
	}
	return filepath.Join(s.basePath, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}
