// Package entityindex implements the dense entity header column: a
// 32-bit index paired with a 16-bit
// generation, a free list of reusable slots, and the rebuild machinery
// the flight recorder's playback path relies on after a raw restore.
package entityindex

import (
	"errors"
	"fmt"

	"github.com/flightcore/ecsflight/internal/chunktable"
)

// Error classification. Callers classify with errors.Is.
var (
	// ErrDeadEntity indicates the entity handle's generation no longer matches
	// the slot's live generation (or the slot is inactive).
	ErrDeadEntity = errors.New("entityindex: dead entity")
)

// Entity identifies a slot by dense index and generation. Identity is
// stable across slot reuse: destroying an entity increments the slot's
// generation so stale handles fail [Index.IsAlive].
type Entity struct {
	Index      uint32
	Generation uint16
}

// Index owns the header column (itself a [chunktable.Table] of packed
// [Header] records), the free list, and derived counters.
type Index struct {
	headers     *chunktable.Table
	freeList    []uint32
	highWater   uint32
	activeCount int
}

// New creates an entity index backed by a header chunk table of the
// given chunk granularity and per-type virtual reservation.
func New(chunkBytes int, reserveBytes int) (*Index, error) {
	tbl, err := chunktable.New(uint32(HeaderSize), chunkBytes, reserveBytes)
	if err != nil {
		return nil, fmt.Errorf("create header chunk table: %w", err)
	}

	return &Index{headers: tbl}, nil
}

// Capacity returns the number of header slots per chunk.
func (idx *Index) Capacity() int { return idx.headers.Capacity() }

// NumChunks returns the number of header chunks currently allocated.
func (idx *Index) NumChunks() int { return idx.headers.NumChunks() }

// ActiveCount returns the number of currently-alive entities.
func (idx *Index) ActiveCount() int { return idx.activeCount }

// HeaderTable exposes the underlying chunk table for the recorder,
// which frames entity-header chunks the same way it frames component
// chunks.
func (idx *Index) HeaderTable() *chunktable.Table { return idx.headers }

// CreateEntity reuses a slot from the free list if one exists (in
// ascending index order); otherwise it
// appends a new slot. The returned entity's generation is whatever the
// slot held previously (0 on first use).
func (idx *Index) CreateEntity() (Entity, error) {
	var slot uint32

	if len(idx.freeList) > 0 {
		slot = idx.freeList[0]
		idx.freeList = idx.freeList[1:]
	} else {
		slot = idx.highWater
		idx.highWater++
	}

	if err := idx.headers.EnsureCapacity(int(slot)); err != nil {
		return Entity{}, fmt.Errorf("ensure capacity for slot %d: %w", slot, err)
	}

	h := idx.readHeader(slot)
	h.Active = true
	idx.writeHeader(slot, h)
	idx.activeCount++

	return Entity{Index: slot, Generation: h.Generation}, nil
}

// DestroyEntity marks e's slot inactive, bumps its generation
// (wrapping on overflow, which reopens the documented ABA window
// after 65536 reuses), and pushes the slot onto the
// free list. Returns [ErrDeadEntity] if e is not currently alive.
func (idx *Index) DestroyEntity(e Entity) error {
	if !idx.IsAlive(e) {
		return fmt.Errorf("entity %+v: %w", e, ErrDeadEntity)
	}

	h := idx.readHeader(e.Index)
	h.Active = false
	h.Generation++ // wraps naturally at uint16 overflow
	h.ComponentMask = Bitmap256{}
	h.AuthorityMask = Bitmap256{}
	idx.writeHeader(e.Index, h)

	idx.freeList = append(idx.freeList, e.Index)
	idx.activeCount--

	return nil
}

// IsAlive reports whether e's generation matches the slot's current
// generation and the slot is active.
func (idx *Index) IsAlive(e Entity) bool {
	if e.Index >= idx.highWater {
		return false
	}

	h := idx.readHeader(e.Index)

	return h.Active && h.Generation == e.Generation
}

// GetHeader returns a copy of the header for slot.
func (idx *Index) GetHeader(slot uint32) (Header, error) {
	if slot >= idx.highWater {
		return Header{}, fmt.Errorf("slot %d >= high water %d: %w", slot, idx.highWater, ErrDeadEntity)
	}

	return idx.readHeader(slot), nil
}

// PutHeader overwrites the header for slot with h.
func (idx *Index) PutHeader(slot uint32, h Header) error {
	if err := idx.headers.EnsureCapacity(int(slot)); err != nil {
		return fmt.Errorf("ensure capacity for slot %d: %w", slot, err)
	}

	idx.writeHeader(slot, h)

	return nil
}

// GetChunkLiveness writes header.active for every slot in chunkIdx into
// out, which must have at least [Index.Capacity] entries.
func (idx *Index) GetChunkLiveness(chunkIdx int, out []bool) error {
	cap := idx.Capacity()
	base := uint32(chunkIdx * cap)

	for i := 0; i < cap; i++ {
		slot := base + uint32(i)
		if slot >= idx.highWater {
			out[i] = false

			continue
		}

		out[i] = idx.readHeader(slot).Active
	}

	return nil
}

// LivenessRange writes header.active for count consecutive global slot
// indices starting at start into out, which must have at least count
// entries. Unlike [Index.GetChunkLiveness] (which assumes the header
// table's own per-chunk capacity), this lets a component chunk table
// with a different element size — and therefore a different slot count
// per chunk — ask for liveness over its own chunk's global slot range,
// since every table addresses slots by the same entity index regardless
// of its own capacity (chunk k hosts [k*capacity, (k+1)*capacity),
// capacity being per-type).
func (idx *Index) LivenessRange(start uint32, count int, out []bool) {
	for i := 0; i < count; i++ {
		slot := start + uint32(i)
		if slot >= idx.highWater {
			out[i] = false

			continue
		}

		out[i] = idx.readHeader(slot).Active
	}
}

// ForceRestoreEntity overwrites a header slot unconditionally,
// bypassing liveness checks. Used only by the flight recorder's
// playback path.
func (idx *Index) ForceRestoreEntity(slot uint32, active bool, generation uint16, componentMask Bitmap256) error {
	if err := idx.headers.EnsureCapacity(int(slot)); err != nil {
		return fmt.Errorf("ensure capacity for slot %d: %w", slot, err)
	}

	h := idx.readHeader(slot)
	h.Active = active
	h.Generation = generation
	h.ComponentMask = componentMask
	idx.writeHeader(slot, h)

	return nil
}

// Hydrate forces activation of slot at the given generation, without
// going through [Index.CreateEntity]'s free-list/high-water bookkeeping.
// Used by replay and by test scaffolds that need to populate a specific
// slot directly.
func (idx *Index) Hydrate(slot uint32, generation uint16) (Entity, error) {
	if err := idx.headers.EnsureCapacity(int(slot)); err != nil {
		return Entity{}, fmt.Errorf("ensure capacity for slot %d: %w", slot, err)
	}

	wasActive := slot < idx.highWater && idx.readHeader(slot).Active

	h := idx.readHeader(slot)
	h.Active = true
	h.Generation = generation
	idx.writeHeader(slot, h)

	if slot >= idx.highWater {
		idx.highWater = slot + 1
	}

	if !wasActive {
		idx.activeCount++

		for i, free := range idx.freeList {
			if free == slot {
				idx.freeList = append(idx.freeList[:i], idx.freeList[i+1:]...)

				break
			}
		}
	}

	return Entity{Index: slot, Generation: generation}, nil
}

// Clear resets the index to empty, the first step of keyframe
// application.
func (idx *Index) Clear() {
	idx.freeList = nil
	idx.highWater = 0
	idx.activeCount = 0
}

// RebuildMetadata recomputes active_count from raw header bytes after a
// keyframe/delta chunk restore, then rebuilds the free list. Per-chunk
// population counters of the header table are not recomputed. highWater
// is set to cover every
// committed header chunk in full: trailing never-written slots within
// the last restored chunk decode as inactive, generation 0, which is
// indistinguishable from (and safe to treat as) a destroyed slot.
func (idx *Index) RebuildMetadata() {
	idx.highWater = uint32(idx.headers.NumChunks() * idx.Capacity())
	idx.activeCount = 0

	for slot := uint32(0); slot < idx.highWater; slot++ {
		if idx.readHeader(slot).Active {
			idx.activeCount++
		}
	}

	idx.RebuildFreeList()
}

// RebuildFreeList scans headers and adds every inactive slot below the
// high-water mark to the free list, in ascending index order, so the
// next [Index.CreateEntity] prefers a gap over appending.
func (idx *Index) RebuildFreeList() {
	idx.freeList = idx.freeList[:0]

	for slot := uint32(0); slot < idx.highWater; slot++ {
		if !idx.readHeader(slot).Active {
			idx.freeList = append(idx.freeList, slot)
		}
	}
}

func (idx *Index) readHeader(slot uint32) Header {
	buf, err := idx.headers.RawRef(int(slot))
	if err != nil {
		// A failure here means the slot's chunk was never committed,
		// which callers must not do. Treat as an all-zero (inactive)
		// header rather than panicking on an internal invariant
		// violation.
		return Header{}
	}

	return decodeHeader(buf)
}

func (idx *Index) writeHeader(slot uint32, h Header) {
	buf, err := idx.headers.RawRef(int(slot))
	if err != nil {
		return
	}

	encodeHeader(buf, h)
}

// Close releases the header column's virtual address reservation.
func (idx *Index) Close() error {
	return idx.headers.Close()
}
