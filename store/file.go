package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	atomicFile "github.com/natefinch/atomic"

	"github.com/yllada/anonvpn/common"
)

// FileBackend keeps each blob in its own file inside Dir.
type FileBackend struct {
	Dir string
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend returns a backend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{Dir: dir}
}

func (b *FileBackend) String() string {
	return fmt.Sprintf("file store '%s'", b.Dir)
}

// Path returns the file holding kind.
func (b *FileBackend) Path(kind Kind) string {
	switch kind {
	case KindServersState:
		return filepath.Join(b.Dir, common.ServersStateFileName)
	default:
		return filepath.Join(b.Dir, common.ClientStateFileName)
	}
}

// Read implements Backend.
func (b *FileBackend) Read(_ context.Context, kind Kind) ([]byte, error) {
	data, err := os.ReadFile(b.Path(kind))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", common.ErrIO, kind, err)
	}
	return data, nil
}

// Write implements Backend. The blob is written to a temporary file and
// renamed over the old one.
func (b *FileBackend) Write(_ context.Context, kind Kind, data []byte) error {
	if err := common.EnsurePrivateDir(b.Dir); err != nil {
		return fmt.Errorf("%w: create %s: %w", common.ErrIO, b.Dir, err)
	}
	path := b.Path(kind)
	if err := atomicFile.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: write %s: %w", common.ErrIO, kind, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("%w: chmod %s: %w", common.ErrIO, kind, err)
	}
	if err := common.ChownToInvoker(path); err != nil {
		return fmt.Errorf("%w: chown %s: %w", common.ErrIO, kind, err)
	}
	return nil
}

// Delete implements Backend.
func (b *FileBackend) Delete(_ context.Context, kind Kind) error {
	err := os.Remove(b.Path(kind))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", common.ErrIO, kind, err)
	}
	return nil
}

// Close implements Backend.
func (b *FileBackend) Close() error {
	return nil
}
