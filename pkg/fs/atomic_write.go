package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
)

// ErrAtomicWriteDirSync indicates the parent directory could not be
// synced after the rename. The new file is in place but its directory
// entry's durability is not guaranteed; callers detect this with
// errors.Is.
var ErrAtomicWriteDirSync = errors.New("fs: dir sync failed after atomic write")

// AtomicWriter writes whole files atomically: write to an O_EXCL temp
// file in the destination directory, sync it, rename it over the
// destination, then sync the directory. Used for the recording
// manifest sidecar, which must never be observed half-written next to
// a recording that is still growing.
type AtomicWriter struct {
	fs FS
}

// NewAtomicWriter creates an AtomicWriter over fsys. Panics if fsys is
// nil.
func NewAtomicWriter(fsys FS) *AtomicWriter {
	if fsys == nil {
		panic("fs: nil FS for AtomicWriter")
	}

	return &AtomicWriter{fs: fsys}
}

// AtomicWriteOptions configures [AtomicWriter.Write].
type AtomicWriteOptions struct {
	// SyncDir syncs the parent directory after the rename, making the
	// new directory entry itself durable.
	SyncDir bool
	// Perm is the destination file mode; must be non-zero. The temp
	// file is explicitly chmod'd to it, so the result is independent
	// of the umask.
	Perm os.FileMode
}

// DefaultOptions returns 0644 with a directory sync.
func (*AtomicWriter) DefaultOptions() AtomicWriteOptions {
	return AtomicWriteOptions{SyncDir: true, Perm: 0o644}
}

// WriteWithDefaults writes r's content to path atomically using
// [AtomicWriter.DefaultOptions].
func (w *AtomicWriter) WriteWithDefaults(path string, r io.Reader) error {
	return w.Write(path, r, w.DefaultOptions())
}

// tempSeq disambiguates concurrent temp files within one process; the
// O_EXCL open guards against collisions with anything else.
var tempSeq atomic.Uint64

const tempMaxAttempts = 10000

// Write writes r's content to path atomically and, if opts.SyncDir is
// set, durably. If the directory sync is the only step that fails, the
// returned error satisfies errors.Is(err, ErrAtomicWriteDirSync) and
// the file is already in place.
func (w *AtomicWriter) Write(path string, r io.Reader, opts AtomicWriteOptions) error {
	if r == nil {
		panic("fs: nil reader for atomic write")
	}

	if opts.Perm == 0 {
		return fmt.Errorf("fs: atomic write to %q: zero Perm", path)
	}

	dir, base := filepath.Split(path)
	if base == "" || base == "." {
		return fmt.Errorf("fs: atomic write: invalid path %q", path)
	}

	if dir == "" {
		dir = "."
	}

	dir = filepath.Clean(dir)

	tmp, tmpPath, err := w.createTemp(dir, base, opts.Perm)
	if err != nil {
		return err
	}

	if err := w.fillTemp(tmp, tmpPath, r, opts.Perm); err != nil {
		_ = tmp.Close()
		_ = w.fs.Remove(tmpPath)

		return err
	}

	if err := tmp.Close(); err != nil {
		_ = w.fs.Remove(tmpPath)

		return fmt.Errorf("close temp file %q: %w", tmpPath, err)
	}

	if err := w.fs.Rename(tmpPath, path); err != nil {
		_ = w.fs.Remove(tmpPath)

		return fmt.Errorf("rename %q over %q: %w", tmpPath, path, err)
	}

	if opts.SyncDir {
		return w.syncDir(dir)
	}

	return nil
}

func (w *AtomicWriter) createTemp(dir, base string, perm os.FileMode) (File, string, error) {
	for range tempMaxAttempts {
		tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d", base, tempSeq.Add(1)))

		f, err := w.fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return f, tmpPath, nil
		}

		if os.IsExist(err) {
			continue
		}

		return nil, "", fmt.Errorf("create temp file: %w", err)
	}

	return nil, "", fmt.Errorf("exhausted temp file names in %q", dir)
}

func (w *AtomicWriter) fillTemp(tmp File, tmpPath string, r io.Reader, perm os.FileMode) error {
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file %q: %w", tmpPath, err)
	}

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("write temp file %q: %w", tmpPath, err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file %q: %w", tmpPath, err)
	}

	return nil
}

func (w *AtomicWriter) syncDir(dir string) error {
	d, err := w.fs.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir %q: %w: %w", dir, err, ErrAtomicWriteDirSync)
	}

	syncErr := d.Sync()
	closeErr := d.Close()

	if syncErr != nil {
		return fmt.Errorf("sync dir %q: %w: %w", dir, syncErr, ErrAtomicWriteDirSync)
	}

	if closeErr != nil {
		return fmt.Errorf("close dir %q: %w", dir, closeErr)
	}

	return nil
}
