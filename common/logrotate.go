package common

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const (
	defaultMaxFileSize = 5 * 1024 * 1024
	defaultMaxBackups  = 5
)

// rotator moves an oversized log file aside as a gzip backup and keeps at
// most maxBackups of them.
type rotator struct {
	path       string
	maxSize    int64
	maxBackups int
	now        func() time.Time
}

func (r *rotator) due() bool {
	info, err := os.Stat(r.path)
	return err == nil && info.Size() >= r.maxSize
}

func (r *rotator) rotate() {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	backup := fmt.Sprintf("%s.%s", r.path, now().Format("20060102-150405"))

	if err := gzipFile(r.path, backup+".gz"); err != nil {
		os.Remove(backup + ".gz")
		os.Rename(r.path, backup)
	} else {
		os.Remove(r.path)
	}
	r.prune()
}

func (r *rotator) prune() {
	matches, err := filepath.Glob(r.path + ".*")
	if err != nil || len(matches) <= r.maxBackups {
		return
	}

	type backup struct {
		path string
		mod  time.Time
	}
	backups := make([]backup, 0, len(matches))
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil {
			backups = append(backups, backup{m, info.ModTime()})
		}
	}
	slices.SortFunc(backups, func(a, b backup) int { return a.mod.Compare(b.mod) })

	for len(backups) > r.maxBackups {
		os.Remove(backups[0].path)
		backups = backups[1:]
	}
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		out.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// isSymlink reports whether path is a symbolic link. Missing paths are not.
func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}
