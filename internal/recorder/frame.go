// Package recorder implements the flight recorder: a tagged-frame
// binary format (Keyframe/Delta headers plus
// TLV-encoded payload sections), an asynchronous writer, and a
// playback system that restores a repository byte-for-byte from a
// recording.
//
// The on-disk layout is fixed byte-offset constants plus
// encoding/binary LittleEndian, a magic tag, and a CRC32 trailer
// guarding against truncated or corrupted frames.
package recorder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// FrameType discriminates a frame's payload shape.
type FrameType uint8

const (
	// FrameKeyframe is a self-contained snapshot.
	FrameKeyframe FrameType = 0
	// FrameDelta carries only chunks touched since base_tick.
	FrameDelta FrameType = 1
)

// frameMagic tags every frame; frame_type (not a distinct magic)
// discriminates Keyframe vs Delta.
const frameMagic = "ECSF"

// Fixed header layout, little-endian.
const (
	headerMagicSize     = 4
	headerFrameTypeSize = 1
	headerTickSize      = 8
	headerBaseTickSize  = 8
	headerPayloadLen    = 4
	// HeaderSize is the fixed byte size of a frame header, before the
	// variable-length payload and the trailing CRC32.
	HeaderSize = headerMagicSize + headerFrameTypeSize + headerTickSize + headerBaseTickSize + headerPayloadLen
	// crcSize is the trailing checksum's width, covering header+payload.
	crcSize = 4
)

// ErrCorruptFrame indicates a magic mismatch, a malformed length, or a
// checksum failure. Returned (never panicked) by the header and section
// decoders; [Reader.ReadFrame] reports such corruption as ok=false with
// a nil error instead.
var ErrCorruptFrame = errors.New("recorder: corrupt frame")

// Header is the decoded fixed portion of one frame.
type Header struct {
	Type       FrameType
	Tick       uint64
	BaseTick   uint64
	PayloadLen uint32
}

// encodeHeader writes h's fixed fields into buf, which must be at
// least [HeaderSize] bytes.
func encodeHeader(buf []byte, h Header) {
	copy(buf[0:4], frameMagic)
	buf[4] = byte(h.Type)
	binary.LittleEndian.PutUint64(buf[5:13], h.Tick)
	binary.LittleEndian.PutUint64(buf[13:21], h.BaseTick)
	binary.LittleEndian.PutUint32(buf[21:25], h.PayloadLen)
}

// decodeHeader parses buf's fixed fields. buf must be at least
// [HeaderSize] bytes; a magic mismatch is reported as [ErrCorruptFrame].
func decodeHeader(buf []byte) (Header, error) {
	if string(buf[0:4]) != frameMagic {
		return Header{}, fmt.Errorf("bad magic %q: %w", buf[0:4], ErrCorruptFrame)
	}

	return Header{
		Type:       FrameType(buf[4]),
		Tick:       binary.LittleEndian.Uint64(buf[5:13]),
		BaseTick:   binary.LittleEndian.Uint64(buf[13:21]),
		PayloadLen: binary.LittleEndian.Uint32(buf[21:25]),
	}, nil
}

// encodeFrame assembles a complete on-disk frame: header, payload, and
// a CRC32 trailer computed over both.
func encodeFrame(h Header, payload []byte) []byte {
	h.PayloadLen = uint32(len(payload))

	out := make([]byte, HeaderSize+len(payload)+crcSize)
	encodeHeader(out[:HeaderSize], h)
	copy(out[HeaderSize:HeaderSize+len(payload)], payload)

	sum := crc32.ChecksumIEEE(out[:HeaderSize+len(payload)])
	binary.LittleEndian.PutUint32(out[HeaderSize+len(payload):], sum)

	return out
}
