package certificate

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage keeps the uploaded certificate bytes
type Storage interface {
	// Save writes data under name and returns the key to read it back
	Save(name string, data []byte) (string, error)
	Get(key string) ([]byte, error)
	Delete(key string) error
}

// LocalStorage stores uploads as flat files in one directory
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates basePath if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

func (l *LocalStorage) Save(name string, data []byte) (string, error) {
	key, err := l.key(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(l.basePath, key), data, 0600); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return key, nil
}

func (l *LocalStorage) Get(key string) ([]byte, error) {
	key, err := l.key(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(l.basePath, key))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

func (l *LocalStorage) Delete(key string) error {
	key, err := l.key(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(l.basePath, key)); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// key keeps every file directly inside basePath
func (l *LocalStorage) key(name string) (string, error) {
	base := filepath.Base(name)
	if base != name || base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("invalid storage key %q", name)
	}
	return base, nil
}
