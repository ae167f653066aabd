package recorder

import (
	"fmt"
	"io"

	"github.com/flightcore/ecsflight"
	"github.com/flightcore/ecsflight/pkg/fs"
)

// dirEntry describes one frame's position in a recording file, built
// once by [NewPlaybackController] so [PlaybackController.SeekToTick]
// can jump directly to the frames it needs.
type dirEntry struct {
	Type     FrameType
	Tick     uint64
	BaseTick uint64
	Offset   int64
	Size     int64
}

// PlaybackController supports indexed, deterministic, idempotent
// seeking within a recording.
type PlaybackController struct {
	path string
	fsys fs.FS
	dir  []dirEntry
}

// NewPlaybackController scans path once to build its frame directory.
func NewPlaybackController(path string, fsys fs.FS) (*PlaybackController, error) {
	if fsys == nil {
		fsys = fs.NewReal()
	}

	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording %q: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat recording %q: %w", path, err)
	}

	fileSize := info.Size()

	var dir []dirEntry

	var offset int64

	for {
		hdrBuf := make([]byte, HeaderSize)

		n, err := io.ReadFull(f, hdrBuf)
		if err == io.EOF && n == 0 {
			break
		}

		if err != nil {
			break // truncated trailing frame: stop, keep what scanned cleanly
		}

		h, err := decodeHeader(hdrBuf)
		if err != nil {
			break
		}

		skip := int64(h.PayloadLen) + crcSize
		size := int64(HeaderSize) + skip

		// Seeking past EOF succeeds silently, so bound-check against
		// the file size instead: a frame whose payload runs off the end
		// of the file is truncated and must not enter the directory.
		if offset+size > fileSize {
			break
		}

		if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
			break
		}

		dir = append(dir, dirEntry{Type: h.Type, Tick: h.Tick, BaseTick: h.BaseTick, Offset: offset, Size: size})
		offset += size
	}

	return &PlaybackController{path: path, fsys: fsys, dir: dir}, nil
}

// ErrNoKeyframe indicates no keyframe with tick <= target exists in the
// recording, so [PlaybackController.SeekToTick] cannot establish a base
// state to apply deltas against.
var ErrNoKeyframe = fmt.Errorf("recorder: no keyframe at or before target tick")

// SeekToTick resets repo to the state at global version target: it
// applies the latest keyframe with tick <= target, then every delta
// with base_tick < next_tick <= target in order. Calling this
// repeatedly with the same target is idempotent since each call
// re-walks from the keyframe rather than applying deltas
// incrementally against the controller's own state.
func (c *PlaybackController) SeekToTick(repo *ecsflight.Repo, target uint64) error {
	kfIdx := -1

	for i, e := range c.dir {
		if e.Type == FrameKeyframe && e.Tick <= target {
			kfIdx = i
		}
	}

	if kfIdx == -1 {
		return ErrNoKeyframe
	}

	f, err := c.fsys.Open(c.path)
	if err != nil {
		return fmt.Errorf("open recording %q: %w", c.path, err)
	}
	defer f.Close()

	rd := &Reader{file: f}
	system := PlaybackSystem{}

	if _, err := f.Seek(c.dir[kfIdx].Offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to keyframe at offset %d: %w", c.dir[kfIdx].Offset, err)
	}

	if ok, err := system.ApplyFrame(repo, rd); err != nil || !ok {
		return fmt.Errorf("apply keyframe at tick %d: %w", c.dir[kfIdx].Tick, errOrCorrupt(err))
	}

	for i := kfIdx + 1; i < len(c.dir); i++ {
		e := c.dir[i]
		if e.Type != FrameDelta || e.Tick > target {
			break
		}

		if _, err := f.Seek(e.Offset, io.SeekStart); err != nil {
			return fmt.Errorf("seek to delta at offset %d: %w", e.Offset, err)
		}

		if ok, err := system.ApplyFrame(repo, rd); err != nil || !ok {
			return fmt.Errorf("apply delta at tick %d: %w", e.Tick, errOrCorrupt(err))
		}
	}

	return nil
}

func errOrCorrupt(err error) error {
	if err != nil {
		return err
	}

	return ErrCorruptFrame
}
