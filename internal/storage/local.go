package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStorage implements the Storage interface on local disk. Intended
// for development and single-node deployments; keys map to files under
// the configured root directory.
type LocalStorage struct {
	rootDir string
}

// NewLocalStorage creates a LocalStorage rooted at rootDir. If rootDir
// is empty a directory under os.TempDir() is used. The directory is
// created if it doesn't exist.
func NewLocalStorage(rootDir string) (*LocalStorage, error) {
	if rootDir == "" {
		rootDir = filepath.Join(os.TempDir(), "songforge")
	}

	if err := os.MkdirAll(rootDir, 0750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	return &LocalStorage{rootDir: rootDir}, nil
}

// RootDir returns the artifact root directory.
func (s *LocalStorage) RootDir() string {
	return s.rootDir
}

// SaveArtifact writes the artifact to disk and returns a file URL.
// Keys may contain path separators; parent directories are created as
// needed. Writes go through a temp file so a crash never leaves a
// partial artifact under the final key.
func (s *LocalStorage) SaveArtifact(ctx context.Context, key string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dest := filepath.Join(s.rootDir, filepath.Clean("/"+key))
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(dest), ".artifact_*")
	if err != nil {
		return "", fmt.Errorf("create artifact file: %w", err)
	}
	tmpName := f.Name()

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("place artifact: %w", err)
	}

	return "file://" + dest, nil
}
