package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrInvalidScanName indicates a scan name that could escape the storage
// directory
var ErrInvalidScanName = errors.New("invalid scan name")

// Storage defines the interface for scan image storage operations. The
// original capture is kept alongside the item for audit and re-reading.
type Storage interface {
	// Save saves a scan image and returns the path/filename
	Save(filename string, data []byte) (string, error)

	// Get retrieves a scan image by path
	Get(path string) ([]byte, error)

	// Delete removes a scan image
	Delete(path string) error
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// scanPath resolves a scan name inside the storage directory. Names are
// derived from uploaded filenames and from ImageFile fields read back out of
// the store, so anything path-like is rejected rather than joined.
func (l *LocalStorage) scanPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("scan name %q: %w", name, ErrInvalidScanName)
	}
	return filepath.Join(l.basePath, name), nil
}

// Save saves a scan image to local storage
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	path, err := l.scanPath(filename)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return filename, nil
}

// Get retrieves a scan image from local storage
func (l *LocalStorage) Get(path string) ([]byte, error) {
	fullPath, err := l.scanPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a scan image from local storage
func (l *LocalStorage) Delete(path string) error {
	fullPath, err := l.scanPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
