package recorder

// Sequential frame reading and, in
// seek.go, indexed seeking (PlaybackController).

import (
	"fmt"
	"io"

	"github.com/flightcore/ecsflight/pkg/fs"
)

// Reader reads frames sequentially from a recording file opened for
// reading, on a file handle disjoint from any concurrently active
// [AsyncRecorder]'s.
type Reader struct {
	file fs.File
}

// NewReader opens path for sequential frame reading via fsys.
func NewReader(path string, fsys fs.FS) (*Reader, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording %q: %w", path, err)
	}

	return &Reader{file: f}, nil
}

// Close releases the underlying file handle.
func (rd *Reader) Close() error { return rd.file.Close() }

// readRaw reads one complete frame (header+payload+crc) from the
// reader's current position. ok is false with a nil error at clean
// EOF and on structural corruption (a truncated frame, a bad header);
// a non-nil error is an actual I/O failure on the handle itself, which
// must not masquerade as "recording ended".
func (rd *Reader) readRaw() (raw []byte, ok bool, err error) {
	hdrBuf := make([]byte, HeaderSize)

	n, err := io.ReadFull(rd.file, hdrBuf)
	if err == io.EOF && n == 0 {
		return nil, false, nil
	}

	if err == io.ErrUnexpectedEOF {
		return nil, false, nil // truncated header: corruption, not an I/O fault
	}

	if err != nil {
		return nil, false, fmt.Errorf("read frame header: %w", err)
	}

	h, err := decodeHeader(hdrBuf)
	if err != nil {
		return nil, false, nil
	}

	rest := make([]byte, int(h.PayloadLen)+crcSize)
	if _, err := io.ReadFull(rd.file, rest); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, false, nil // truncated payload: corruption
		}

		return nil, false, fmt.Errorf("read frame payload: %w", err)
	}

	out := make([]byte, 0, HeaderSize+len(rest))
	out = append(out, hdrBuf...)
	out = append(out, rest...)

	return out, true, nil
}

// ReadFrame reads and fully decodes the next frame. ok is false at EOF
// or corruption, per [Reader.readRaw]'s contract.
func (rd *Reader) ReadFrame(chunkBytes int) (Frame, bool, error) {
	raw, ok, err := rd.readRaw()
	if err != nil || !ok {
		return Frame{}, false, err
	}

	h, payload, ok := verifyAndSplit(raw)
	if !ok {
		return Frame{}, false, nil
	}

	f, err := parsePayload(h, payload, chunkBytes)
	if err != nil {
		return Frame{}, false, nil
	}

	return f, true, nil
}
