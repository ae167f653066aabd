package recorder

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/flightcore/ecsflight"
	"github.com/flightcore/ecsflight/pkg/fs"
)

// DefaultQueueDepth bounds the writer queue when the caller does not.
const DefaultQueueDepth = 16

// ErrQueueFull indicates a non-blocking capture was dropped because the
// writer's bounded queue was full.
var ErrQueueFull = errors.New("recorder: writer queue full, frame dropped")

// frameJob is one owned frame buffer in flight to the writer goroutine.
// done, if non-nil, is closed after the frame is written (or the
// attempt fails), carrying the outcome back to a blocking capture call.
type frameJob struct {
	data []byte
	done chan error
}

// AsyncRecorder owns a background writer goroutine and a bounded
// queue of frame buffers. The capture path snapshots chunk bytes
// synchronously on the caller's goroutine — no concurrent writer can
// touch the repository meanwhile — then hands the finished buffer to
// the worker.
type AsyncRecorder struct {
	cfg      RecorderConfig
	file     fs.File
	jobs     chan frameJob
	wg       sync.WaitGroup
	mu       sync.Mutex
	latched  error
	dropped  int
	closed   bool
	closedCh chan struct{}
}

// RecorderConfig configures an [AsyncRecorder].
type RecorderConfig struct {
	// QueueDepth bounds the writer's pending-frame channel. Defaults to
	// [DefaultQueueDepth] if <= 0.
	QueueDepth int
	// Paranoid enables the delta-after-tick assertion in
	// [AsyncRecorder.CaptureFrame].
	Paranoid bool
	// FS is the filesystem the writer opens path through. Defaults to
	// [fs.NewReal] if nil; tests substitute [fs.Chaos] or a gating double to
	// exercise durability failure paths.
	FS fs.FS
	// Logf receives a formatted message on dropped frames and latched
	// writer errors. Nil-safe; defaults to a no-op.
	Logf func(format string, args ...any)
}

func (c RecorderConfig) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

// NewAsyncRecorder opens path for append-only writing and starts the
// background writer goroutine. An advisory exclusive file lock
// prevents a second writer from opening the same path concurrently.
func NewAsyncRecorder(path string, cfg RecorderConfig) (*AsyncRecorder, error) {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}

	fsys := cfg.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open recording %q for writing: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("lock recording %q: %w", path, err)
	}

	rec := &AsyncRecorder{
		cfg:      cfg,
		file:     f,
		jobs:     make(chan frameJob, cfg.QueueDepth),
		closedCh: make(chan struct{}),
	}

	rec.wg.Add(1)

	go rec.run()

	return rec, nil
}

func (r *AsyncRecorder) run() {
	defer r.wg.Done()

	for job := range r.jobs {
		_, err := r.file.Write(job.data)
		if err == nil {
			err = r.file.Sync()
		}

		if err != nil {
			r.mu.Lock()
			if r.latched == nil {
				r.latched = err
			}
			r.mu.Unlock()

			r.cfg.logf("recorder: write failed: %v", err)
		}

		if job.done != nil {
			job.done <- err
			close(job.done)
		}
	}
}

// submit enqueues data, blocking until delivered if blocking is true;
// otherwise dropping (and reporting via Logf/ErrQueueFull) when the
// queue is full.
func (r *AsyncRecorder) submit(data []byte, blocking bool) error {
	if blocking {
		done := make(chan error, 1)
		r.jobs <- frameJob{data: data, done: done}

		return <-done
	}

	select {
	case r.jobs <- frameJob{data: data}:
		return nil
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()

		r.cfg.logf("recorder: queue full, dropping frame (%d bytes)", len(data))

		return ErrQueueFull
	}
}

// CaptureKeyframe snapshots repo into a keyframe and enqueues it.
func (r *AsyncRecorder) CaptureKeyframe(repo *ecsflight.Repo, blocking bool) error {
	data, err := CaptureKeyframe(repo)
	if err != nil {
		return fmt.Errorf("build keyframe: %w", err)
	}

	return r.submit(data, blocking)
}

// CaptureFrame snapshots a delta against baseTick and enqueues it,
// clearing the repository's destruction log on success — the recorder
// consumes the log, so ownership of clearing it belongs here rather
// than the caller.
func (r *AsyncRecorder) CaptureFrame(repo *ecsflight.Repo, baseTick uint64, blocking bool) error {
	data, err := CaptureDelta(repo, baseTick, r.cfg.Paranoid)
	if err != nil {
		return fmt.Errorf("build delta: %w", err)
	}

	if err := r.submit(data, blocking); err != nil {
		return err
	}

	repo.ClearDestructionLog()

	return nil
}

// Dispose drains the queue, joins the writer goroutine, and closes
// the file; no accepted frame is silently lost. Any latched writer
// error is returned here.
func (r *AsyncRecorder) Dispose() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()

		return nil
	}

	r.closed = true
	r.mu.Unlock()

	close(r.jobs)
	r.wg.Wait()

	r.mu.Lock()
	latched := r.latched
	r.mu.Unlock()

	if err := unix.Flock(int(r.file.Fd()), unix.LOCK_UN); err != nil && latched == nil {
		latched = fmt.Errorf("unlock recording: %w", err)
	}

	if err := r.file.Close(); err != nil && latched == nil {
		latched = fmt.Errorf("close recording: %w", err)
	}

	close(r.closedCh)

	return latched
}

// Dropped returns the number of frames dropped due to a full queue
// under non-blocking capture.
func (r *AsyncRecorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.dropped
}
