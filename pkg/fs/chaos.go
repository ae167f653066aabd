package fs

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"syscall"
)

// ChaosConfig sets per-operation fault rates in [0, 1]. The zero value
// injects nothing; a rate of 1 fails the operation every time, which
// is how durability tests deterministically exercise a failure path
// (e.g. WriteFailRate: 1 to drive the recorder's latched-error
// handling).
type ChaosConfig struct {
	// OpenFailRate fails Open with EACCES or EMFILE, and OpenFile with
	// EACCES, EMFILE or ENOSPC.
	OpenFailRate float64
	// ReadFailRate fails File.Read entirely with EIO.
	ReadFailRate float64
	// PartialReadRate shortens File.Read (n < len(p), err == nil) —
	// legal io.Reader behavior that flushes out callers not looping to
	// EOF.
	PartialReadRate float64
	// WriteFailRate fails File.Write entirely with EIO or ENOSPC.
	WriteFailRate float64
	// PartialWriteRate writes a prefix of the data, then fails with
	// EIO or ENOSPC.
	PartialWriteRate float64
	// SyncFailRate fails File.Sync with EIO or ENOSPC — the classic
	// delayed-write-error surface.
	SyncFailRate float64
	// SeekFailRate fails File.Seek with EIO.
	SeekFailRate float64
	// CloseFailRate reports EIO from File.Close; the descriptor is
	// closed regardless so tests never leak fds.
	CloseFailRate float64
	// StatFailRate fails FS.Stat and File.Stat with EIO.
	StatFailRate float64
	// RemoveFailRate fails FS.Remove with EACCES or EIO.
	RemoveFailRate float64
	// RenameFailRate fails FS.Rename with EIO or EXDEV.
	RenameFailRate float64
}

// ChaosStats counts injected faults by operation.
type ChaosStats struct {
	OpenFails   int64
	ReadFails   int64
	WriteFails  int64
	SyncFails   int64
	SeekFails   int64
	CloseFails  int64
	StatFails   int64
	RemoveFails int64
	RenameFails int64
}

// Total returns the total number of injected faults.
func (s ChaosStats) Total() int64 {
	return s.OpenFails + s.ReadFails + s.WriteFails + s.SyncFails +
		s.SeekFails + s.CloseFails + s.StatFails + s.RemoveFails + s.RenameFails
}

// chaosError tags every injected fault so [IsChaosErr] can distinguish
// injected failures from real ones.
type chaosError struct {
	err error
}

func (e *chaosError) Error() string { return e.err.Error() }

func (e *chaosError) Unwrap() error { return e.err }

// IsChaosErr reports whether any error in err's chain was injected by
// a [Chaos] filesystem.
func IsChaosErr(err error) bool {
	var ce *chaosError

	return errors.As(err, &ce)
}

// Chaos wraps an [FS] and injects seeded, reproducible faults per
// [ChaosConfig]. The same seed and operation sequence yields the same
// faults, so a failing durability test shrinks to a seed.
type Chaos struct {
	underlying FS
	cfg        ChaosConfig

	mu    sync.Mutex
	rng   *rand.Rand
	stats ChaosStats
}

// NewChaos wraps underlying with fault injection. A nil config injects
// nothing.
func NewChaos(underlying FS, seed int64, cfg *ChaosConfig) *Chaos {
	c := &Chaos{
		underlying: underlying,
		rng:        rand.New(rand.NewSource(seed)),
	}

	if cfg != nil {
		c.cfg = *cfg
	}

	return c
}

// Stats returns a snapshot of injected-fault counts.
func (c *Chaos) Stats() ChaosStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}

// roll reports whether a fault fires at rate, and picks one of errnos
// for it. Callers pass a pointer to the stat counter to bump.
func (c *Chaos) roll(rate float64, counter *int64, errnos ...syscall.Errno) (syscall.Errno, bool) {
	if rate <= 0 {
		return 0, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rng.Float64() >= rate {
		return 0, false
	}

	*counter++

	return errnos[c.rng.Intn(len(errnos))], true
}

func (c *Chaos) pathErr(op, path string, errno syscall.Errno) error {
	return &chaosError{err: &os.PathError{Op: op, Path: path, Err: errno}}
}

// Open implements [FS].
func (c *Chaos) Open(path string) (File, error) {
	if errno, ok := c.roll(c.cfg.OpenFailRate, &c.stats.OpenFails, syscall.EACCES, syscall.EMFILE); ok {
		return nil, c.pathErr("open", path, errno)
	}

	f, err := c.underlying.Open(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, chaos: c, path: path}, nil
}

// OpenFile implements [FS].
func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if errno, ok := c.roll(c.cfg.OpenFailRate, &c.stats.OpenFails, syscall.EACCES, syscall.EMFILE, syscall.ENOSPC); ok {
		return nil, c.pathErr("open", path, errno)
	}

	f, err := c.underlying.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, chaos: c, path: path}, nil
}

// Stat implements [FS].
func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if errno, ok := c.roll(c.cfg.StatFailRate, &c.stats.StatFails, syscall.EIO); ok {
		return nil, c.pathErr("stat", path, errno)
	}

	return c.underlying.Stat(path)
}

// Remove implements [FS].
func (c *Chaos) Remove(path string) error {
	if errno, ok := c.roll(c.cfg.RemoveFailRate, &c.stats.RemoveFails, syscall.EACCES, syscall.EIO); ok {
		return c.pathErr("remove", path, errno)
	}

	return c.underlying.Remove(path)
}

// Rename implements [FS].
func (c *Chaos) Rename(oldpath, newpath string) error {
	if errno, ok := c.roll(c.cfg.RenameFailRate, &c.stats.RenameFails, syscall.EIO, syscall.EXDEV); ok {
		return &chaosError{err: &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: errno}}
	}

	return c.underlying.Rename(oldpath, newpath)
}

var _ FS = (*Chaos)(nil)

// chaosFile injects faults on the per-handle operations.
type chaosFile struct {
	File
	chaos *Chaos
	path  string
}

func (f *chaosFile) Read(p []byte) (int, error) {
	c := f.chaos

	if errno, ok := c.roll(c.cfg.ReadFailRate, &c.stats.ReadFails, syscall.EIO); ok {
		return 0, c.pathErr("read", f.path, errno)
	}

	if _, ok := c.roll(c.cfg.PartialReadRate, &c.stats.ReadFails, syscall.EIO); ok && len(p) > 1 {
		c.mu.Lock()
		n := 1 + c.rng.Intn(len(p)-1)
		c.mu.Unlock()

		return f.File.Read(p[:n])
	}

	return f.File.Read(p)
}

func (f *chaosFile) Write(p []byte) (int, error) {
	c := f.chaos

	if errno, ok := c.roll(c.cfg.WriteFailRate, &c.stats.WriteFails, syscall.EIO, syscall.ENOSPC); ok {
		return 0, c.pathErr("write", f.path, errno)
	}

	if errno, ok := c.roll(c.cfg.PartialWriteRate, &c.stats.WriteFails, syscall.EIO, syscall.ENOSPC); ok && len(p) > 1 {
		c.mu.Lock()
		n := 1 + c.rng.Intn(len(p)-1)
		c.mu.Unlock()

		written, err := f.File.Write(p[:n])
		if err != nil {
			return written, err
		}

		return written, c.pathErr("write", f.path, errno)
	}

	return f.File.Write(p)
}

func (f *chaosFile) Seek(offset int64, whence int) (int64, error) {
	c := f.chaos

	if errno, ok := c.roll(c.cfg.SeekFailRate, &c.stats.SeekFails, syscall.EIO); ok {
		return 0, c.pathErr("seek", f.path, errno)
	}

	return f.File.Seek(offset, whence)
}

func (f *chaosFile) Sync() error {
	c := f.chaos

	if errno, ok := c.roll(c.cfg.SyncFailRate, &c.stats.SyncFails, syscall.EIO, syscall.ENOSPC); ok {
		return c.pathErr("sync", f.path, errno)
	}

	return f.File.Sync()
}

func (f *chaosFile) Stat() (os.FileInfo, error) {
	c := f.chaos

	if errno, ok := c.roll(c.cfg.StatFailRate, &c.stats.StatFails, syscall.EIO); ok {
		return nil, c.pathErr("stat", f.path, errno)
	}

	return f.File.Stat()
}

func (f *chaosFile) Close() error {
	c := f.chaos

	// The real descriptor is always closed, even when a fault is
	// reported, so tests never leak fds.
	realErr := f.File.Close()

	if errno, ok := c.roll(c.cfg.CloseFailRate, &c.stats.CloseFails, syscall.EIO); ok {
		return c.pathErr("close", f.path, errno)
	}

	return realErr
}

var _ File = (*chaosFile)(nil)

// String renders the stats compactly for test failure messages.
func (s ChaosStats) String() string {
	return fmt.Sprintf("chaos faults: open=%d read=%d write=%d sync=%d seek=%d close=%d stat=%d remove=%d rename=%d",
		s.OpenFails, s.ReadFails, s.WriteFails, s.SyncFails, s.SeekFails, s.CloseFails, s.StatFails, s.RemoveFails, s.RenameFails)
}
