package stores

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oarkflow/pathacl"
)

// FileSource persists the rule document as a single file on disk.
type FileSource struct {
	path string
}

var _ pathacl.RuleSource = (*FileSource)(nil)

// NewFileSource opens a file-backed rule source. The file must already
// exist: with no document there is nothing for a resolver to serve, so a
// missing file is an immediate error rather than a deferred one.
func NewFileSource(path string) (*FileSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("rule file: %w", err)
	}
	return &FileSource{path: abs}, nil
}

// Path returns the absolute path of the backing file, for watchers.
func (f *FileSource) Path() string { return f.path }

func (f *FileSource) Load(ctx context.Context) ([]byte, error) {
	return os.ReadFile(f.path)
}

// Save writes through a temp file in the same directory and renames it into
// place, so a reader never observes a half-written document.
func (f *FileSource) Save(ctx context.Context, data []byte) error {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".rules-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
