package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// fileHelper is the filesystem surface the manager mutates through. Tests
// swap it to inject failures.
type fileHelper interface {
	MkdirAll(path string, perm os.FileMode) error
	RemoveAll(path string) error
	LinkOrCopyFile(src, dst string) error
	WriteFileAtomic(path string, data []byte) error
}

type aferoHelper struct {
	fs afero.Fs
}

var _ fileHelper = (*aferoHelper)(nil)

func newFileHelper(fs afero.Fs) *aferoHelper {
	return &aferoHelper{fs: fs}
}

func (h *aferoHelper) MkdirAll(path string, perm os.FileMode) error {
	return h.fs.MkdirAll(path, perm)
}

func (h *aferoHelper) RemoveAll(path string) error {
	return h.fs.RemoveAll(path)
}

// LinkOrCopyFile hard-links src to dst when the backing filesystem is the
// OS one, and copies otherwise or when linking fails (e.g. across devices).
func (h *aferoHelper) LinkOrCopyFile(src, dst string) error {
	if err := h.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory for link %s: %w", dst, err)
	}
	if _, ok := h.fs.(*afero.OsFs); ok {
		if err := os.Link(src, dst); err == nil {
			return nil
		}
	}
	return h.CopyFile(src, dst)
}

// CopyFile copies a file from src to dst.
func (h *aferoHelper) CopyFile(src, dst string) error {
	in, err := h.fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", src, err)
	}
	defer in.Close()

	out, err := h.fs.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy data from %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close destination file %s: %w", dst, err)
	}
	return nil
}

func (h *aferoHelper) WriteFileAtomic(path string, data []byte) error {
	return writeFileAtomic(h.fs, path, data)
}

// writeFileAtomic writes to path+".tmp", syncs, then renames over path.
func writeFileAtomic(fs afero.Fs, path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp file %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		fs.Remove(tmp)
		return fmt.Errorf("failed to write temp file %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		fs.Remove(tmp)
		return fmt.Errorf("failed to sync temp file %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("failed to close temp file %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		fs.Remove(tmp)
		return fmt.Errorf("failed to rename %s to %s: %w", tmp, path, err)
	}
	return nil
}
