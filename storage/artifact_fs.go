package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileArtifactStore writes result files into a local directory.
// It is safe for concurrent use.
type FileArtifactStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileArtifactStore creates the output directory if needed.
func NewFileArtifactStore(dir string) (*FileArtifactStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("artifacts: create output dir: %w", err)
	}
	return &FileArtifactStore{dir: dir}, nil
}

// Put writes data to dir/name, truncating any previous file, and returns
// the file path.
func (f *FileArtifactStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("artifacts: invalid file name %q", name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("artifacts: write %q: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("artifacts: rename %q: %w", path, err)
	}
	return path, nil
}
