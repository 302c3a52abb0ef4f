package cart

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage defines the interface for record file storage
type Storage interface {
	// Save writes a file and returns its name within the store
	Save(filename string, data []byte) (string, error)

	// Get reads a file by name
	Get(name string) ([]byte, error)

	// Delete removes a file
	Delete(name string) error
}

// LocalStorage implements Storage on a local directory
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the directory if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

func (l *LocalStorage) path(name string) (string, error) {
	clean := filepath.Base(name)
	if clean != name || clean == "." || clean == ".." {
		return "", fmt.Errorf("invalid file name: %q", name)
	}
	return filepath.Join(l.basePath, clean), nil
}

// Save writes data under filename
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	path, err := l.path(filename)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return filename, nil
}

// Get reads a stored file
func (l *LocalStorage) Get(name string) ([]byte, error) {
	path, err := l.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a stored file
func (l *LocalStorage) Delete(name string) error {
	path, err := l.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
