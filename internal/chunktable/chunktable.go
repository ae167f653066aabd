// Package chunktable implements the per-component-type columnar chunk
// store: a growing sequence of fixed-byte
// chunks over a reserved virtual address range, with a per-chunk
// version stamp, population counter, and dirty flag.
//
// Element layout is opaque to the table — it stores raw bytes and
// leaves encode/decode to the caller.
package chunktable

import (
	"errors"
	"fmt"

	"github.com/flightcore/ecsflight/internal/varena"
)

// Error classification. Callers classify with errors.Is.
var (
	// ErrNotPresent indicates the slot's owning entity lacks this component.
	ErrNotPresent = errors.New("chunktable: not present")
	// ErrInvalidArgument indicates a malformed element size, chunk size, or index.
	ErrInvalidArgument = errors.New("chunktable: invalid argument")
	// ErrBufferSize indicates a caller-supplied buffer didn't match the chunk size.
	ErrBufferSize = errors.New("chunktable: buffer size mismatch")
)

// ChunkMeta describes one chunk's bookkeeping state.
type ChunkMeta struct {
	Version    uint64
	Population int
	Dirty      bool
	committed  bool
}

// Table is the chunk store for a single component type. It is not safe
// for concurrent use; the repository serializes access
type Table struct {
	arena       *varena.Arena
	elementSize uint32
	chunkBytes  int
	capacity    int // elements per chunk = chunkBytes / elementSize
	chunks      []ChunkMeta
	// present is a flat presence bitmap over all slot indices ever
	// touched by EnsureCapacity, independent of chunk boundaries. It
	// backs GetRef's NotPresent check and doubles as the one-bit
	// indicator column that lets managed components share a uniform
	// mask/query surface with in-chunk ones.
	present []bool
}

// New creates a chunk table for elements of elementSize bytes, chunked
// into chunkBytes-sized regions over a reservation of reserveBytes.
func New(elementSize uint32, chunkBytes int, reserveBytes int) (*Table, error) {
	if elementSize == 0 {
		return nil, fmt.Errorf("element size 0: %w", ErrInvalidArgument)
	}

	if chunkBytes <= 0 || chunkBytes%varena.PageAlignment != 0 {
		return nil, fmt.Errorf("chunk size %d must be a positive multiple of %d: %w", chunkBytes, varena.PageAlignment, ErrInvalidArgument)
	}

	capacity := chunkBytes / int(elementSize)
	if capacity == 0 {
		return nil, fmt.Errorf("element size %d exceeds chunk size %d: %w", elementSize, chunkBytes, ErrInvalidArgument)
	}

	arena, err := varena.Reserve(reserveBytes)
	if err != nil {
		return nil, fmt.Errorf("reserve chunk table: %w", err)
	}

	return &Table{
		arena:       arena,
		elementSize: elementSize,
		chunkBytes:  chunkBytes,
		capacity:    capacity,
	}, nil
}

// ElementSize returns the fixed byte size of one element.
func (t *Table) ElementSize() uint32 { return t.elementSize }

// Capacity returns the number of elements per chunk.
func (t *Table) Capacity() int { return t.capacity }

// NumChunks returns the number of chunks currently known to the table
// (committed or not).
func (t *Table) NumChunks() int { return len(t.chunks) }

// ChunkBytes returns the fixed byte size of one chunk, for callers
// that need to size a raw copy/restore buffer without recomputing
// elementSize*capacity themselves.
func (t *Table) ChunkBytes() int { return t.chunkBytes }

// ChunkMeta returns a copy of chunk chunkIdx's bookkeeping state.
func (t *Table) ChunkMeta(chunkIdx int) (ChunkMeta, error) {
	if chunkIdx < 0 || chunkIdx >= len(t.chunks) {
		return ChunkMeta{}, fmt.Errorf("chunk %d out of range [0,%d): %w", chunkIdx, len(t.chunks), ErrInvalidArgument)
	}

	return t.chunks[chunkIdx], nil
}

// EnsureCapacity grows the table (reserving+committing) to cover
// slotIndex, committing only the touched chunk. It is idempotent.
func (t *Table) EnsureCapacity(slotIndex int) error {
	if slotIndex < 0 {
		return fmt.Errorf("negative slot index %d: %w", slotIndex, ErrInvalidArgument)
	}

	chunkIdx := slotIndex / t.capacity

	for len(t.chunks) <= chunkIdx {
		t.chunks = append(t.chunks, ChunkMeta{})
	}

	if slotIndex >= len(t.present) {
		grown := make([]bool, slotIndex+1)
		copy(grown, t.present)
		t.present = grown
	}

	meta := &t.chunks[chunkIdx]
	if meta.committed {
		return nil
	}

	offset := chunkIdx * t.chunkBytes
	if err := t.arena.Commit(offset, t.chunkBytes); err != nil {
		return fmt.Errorf("commit chunk %d: %w", chunkIdx, err)
	}

	meta.committed = true

	return nil
}

// GetRef returns a byte slice view over the element at slotIndex.
// Fails with [ErrNotPresent] if the slot has no component recorded via
// [Table.SetPresent].
func (t *Table) GetRef(slotIndex int) ([]byte, error) {
	if !t.IsPresent(slotIndex) {
		return nil, fmt.Errorf("slot %d: %w", slotIndex, ErrNotPresent)
	}

	return t.elementBytes(slotIndex)
}

// RawRef returns a byte slice view over the element at slotIndex without
// a presence check. Use this for columns where every committed slot is
// a meaningful record regardless of presence bookkeeping — the entity
// header column is the canonical example, where a slot's "liveness" is
// a field inside the record (active), not table-level presence.
func (t *Table) RawRef(slotIndex int) ([]byte, error) {
	return t.elementBytes(slotIndex)
}

// elementBytes returns the raw bytes for slotIndex without a presence
// check, for internal use by restore/sanitize paths that operate on raw
// memory before presence is known to be accurate.
func (t *Table) elementBytes(slotIndex int) ([]byte, error) {
	chunkIdx := slotIndex / t.capacity
	if chunkIdx < 0 || chunkIdx >= len(t.chunks) || !t.chunks[chunkIdx].committed {
		return nil, fmt.Errorf("slot %d: chunk not committed: %w", slotIndex, ErrInvalidArgument)
	}

	withinChunk := slotIndex % t.capacity
	chunkOffset := chunkIdx * t.chunkBytes
	elemOffset := chunkOffset + withinChunk*int(t.elementSize)

	return t.arena.Slice(elemOffset, int(t.elementSize))
}

// SetPresent records whether slotIndex currently holds this component.
// The caller (the entity repository) is responsible for keeping this in
// sync with the entity header's component_mask bit.
func (t *Table) SetPresent(slotIndex int, present bool) {
	if slotIndex >= len(t.present) {
		grown := make([]bool, slotIndex+1)
		copy(grown, t.present)
		t.present = grown
	}

	wasPresent := t.present[slotIndex]
	t.present[slotIndex] = present

	chunkIdx := slotIndex / t.capacity
	if chunkIdx >= len(t.chunks) {
		return
	}

	if present && !wasPresent {
		t.chunks[chunkIdx].Population++
	} else if !present && wasPresent {
		t.chunks[chunkIdx].Population--
	}
}

// SetChunkPresence overwrites the presence bit for every slot in chunk
// chunkIdx from liveness (indexed by within-chunk offset). Used by
// playback after a raw [Table.RestoreChunkFromBuffer], where the
// table's own presence bookkeeping must be rebuilt from the freshly
// restored entity headers rather than incrementally tracked.
func (t *Table) SetChunkPresence(chunkIdx int, liveness []bool) {
	base := chunkIdx * t.capacity

	for i := 0; i < t.capacity && i < len(liveness); i++ {
		t.SetPresent(base+i, liveness[i])
	}
}

// IsPresent reports whether slotIndex currently holds this component.
func (t *Table) IsPresent(slotIndex int) bool {
	if slotIndex < 0 || slotIndex >= len(t.present) {
		return false
	}

	return t.present[slotIndex]
}

// Touch stamps the chunk containing slotIndex with globalVersion and
// marks it dirty. The entity header's own version is stamped by the
// entity index, not here; the invariant is chunk.version >= every
// alive header.version in the chunk.
func (t *Table) Touch(slotIndex int, globalVersion uint64) error {
	chunkIdx := slotIndex / t.capacity
	if chunkIdx < 0 || chunkIdx >= len(t.chunks) {
		return fmt.Errorf("slot %d out of range: %w", slotIndex, ErrInvalidArgument)
	}

	meta := &t.chunks[chunkIdx]
	if globalVersion > meta.Version {
		meta.Version = globalVersion
	}

	meta.Dirty = true

	return nil
}

// CopyChunkToBuffer copies chunk chunkIdx's raw bytes into buf, which
// must be exactly chunkBytes long. Returns the number of bytes written.
func (t *Table) CopyChunkToBuffer(chunkIdx int, buf []byte) (int, error) {
	if len(buf) != t.chunkBytes {
		return 0, fmt.Errorf("buffer len %d, want %d: %w", len(buf), t.chunkBytes, ErrBufferSize)
	}

	if chunkIdx < 0 || chunkIdx >= len(t.chunks) || !t.chunks[chunkIdx].committed {
		return 0, fmt.Errorf("chunk %d not committed: %w", chunkIdx, ErrInvalidArgument)
	}

	src, err := t.arena.Slice(chunkIdx*t.chunkBytes, t.chunkBytes)
	if err != nil {
		return 0, fmt.Errorf("slice chunk %d: %w", chunkIdx, err)
	}

	return copy(buf, src), nil
}

// RestoreChunkFromBuffer writes buf verbatim into chunk chunkIdx,
// committing it first if necessary. After this call the chunk contents
// are byte-identical to buf; the caller must invoke
// [Table.SanitizeChunk] with the authoritative liveness bitmap before
// any read.
func (t *Table) RestoreChunkFromBuffer(chunkIdx int, buf []byte) error {
	if len(buf) != t.chunkBytes {
		return fmt.Errorf("buffer len %d, want %d: %w", len(buf), t.chunkBytes, ErrBufferSize)
	}

	if chunkIdx < 0 {
		return fmt.Errorf("negative chunk index %d: %w", chunkIdx, ErrInvalidArgument)
	}

	for len(t.chunks) <= chunkIdx {
		t.chunks = append(t.chunks, ChunkMeta{})
	}

	meta := &t.chunks[chunkIdx]
	if !meta.committed {
		if err := t.arena.Commit(chunkIdx*t.chunkBytes, t.chunkBytes); err != nil {
			return fmt.Errorf("commit chunk %d: %w", chunkIdx, err)
		}

		meta.committed = true
	}

	dst, err := t.arena.Slice(chunkIdx*t.chunkBytes, t.chunkBytes)
	if err != nil {
		return fmt.Errorf("slice chunk %d: %w", chunkIdx, err)
	}

	copy(dst, buf)

	return nil
}

// SanitizeChunk zeroes bytes for every slot in chunk chunkIdx whose
// liveness[i] is false. liveness is indexed by within-chunk slot offset
// and must have at least [Table.Capacity] entries; bounds come from the
// table's own capacity, not len(liveness)
func (t *Table) SanitizeChunk(chunkIdx int, liveness []bool) error {
	if chunkIdx < 0 || chunkIdx >= len(t.chunks) || !t.chunks[chunkIdx].committed {
		return fmt.Errorf("chunk %d not committed: %w", chunkIdx, ErrInvalidArgument)
	}

	chunk, err := t.arena.Slice(chunkIdx*t.chunkBytes, t.chunkBytes)
	if err != nil {
		return fmt.Errorf("slice chunk %d: %w", chunkIdx, err)
	}

	elemSize := int(t.elementSize)

	for i := 0; i < t.capacity; i++ {
		alive := i < len(liveness) && liveness[i]
		if alive {
			continue
		}

		off := i * elemSize
		clear(chunk[off : off+elemSize])
	}

	return nil
}

// Close frees the underlying virtual address reservation.
func (t *Table) Close() error {
	return t.arena.Free()
}
