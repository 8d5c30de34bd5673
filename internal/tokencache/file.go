package tokencache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStorage keeps one file per key under a directory. Writes go through
// a temp file and an atomic rename so a concurrent reader sees either the
// old entry or the new complete one, never a partial write.
type FileStorage struct {
	dir string
}

// NewFileStorage creates the directory if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

func (s *FileStorage) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(s.dir, safe)
}

// Get implements Storage.
func (s *FileStorage) Get(key string) (string, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(data), nil
}

// Set implements Storage.
func (s *FileStorage) Set(key, value string) error {
	f, err := os.CreateTemp(s.dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := f.Name()

	success := false
	defer func() {
		if !success {
			_ = f.Close()
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := f.WriteString(value); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync entry: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0o600); err != nil {
		return fmt.Errorf("failed to set entry permissions: %w", err)
	}
	if err := os.Rename(tempPath, s.path(key)); err != nil {
		return fmt.Errorf("failed to replace entry: %w", err)
	}
	success = true
	return nil
}

// Remove implements Storage.
func (s *FileStorage) Remove(key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
