// Package partmeta implements the sparse metadata table: a (entity,
// component type) → PartDescriptor mapping used to express
// sub-component deltas for large components. An unset entry means "all
// parts present" — the absence of an entry is never "no parts".
package partmeta

import "math/bits"

// PartsPerDescriptor is the number of fixed-size "parts" one large
// component is divided into.
const PartsPerDescriptor = 256

// PartDescriptor is a bitmap over which parts of a large component are
// live/changed, one bit per part.
type PartDescriptor [PartsPerDescriptor / 64]uint64

// AllPresent returns the descriptor with every part bit set — the
// default semantics for an entity/component pair with no table entry.
func AllPresent() PartDescriptor {
	var d PartDescriptor
	for i := range d {
		d[i] = ^uint64(0)
	}

	return d
}

// Set sets bit i.
func (d *PartDescriptor) Set(i int) {
	d[i/64] |= 1 << (uint(i) % 64)
}

// Test reports whether bit i is set.
func (d PartDescriptor) Test(i int) bool {
	return d[i/64]&(1<<(uint(i)%64)) != 0
}

// PopCount returns the number of set part bits.
func (d PartDescriptor) PopCount() int {
	n := 0
	for _, w := range d {
		n += bits.OnesCount64(w)
	}

	return n
}

type key struct {
	entity uint32
	typeID uint16
}

// Table is the sparse (entity, type) → PartDescriptor store.
type Table struct {
	entries map[key]PartDescriptor
}

// New creates an empty metadata table.
func New() *Table {
	return &Table{entries: make(map[key]PartDescriptor)}
}

// Set records desc for (entity, typeID).
func (t *Table) Set(entity uint32, typeID uint16, desc PartDescriptor) {
	t.entries[key{entity, typeID}] = desc
}

// Get returns the descriptor for (entity, typeID), defaulting to
// [AllPresent] when no entry exists.
func (t *Table) Get(entity uint32, typeID uint16) PartDescriptor {
	if desc, ok := t.entries[key{entity, typeID}]; ok {
		return desc
	}

	return AllPresent()
}

// HasPart reports whether part is present for (entity, typeID).
func (t *Table) HasPart(entity uint32, typeID uint16, part int) bool {
	return t.Get(entity, typeID).Test(part)
}

// ClearComponent removes the entry for (entity, typeID), reverting it
// to the default "all parts present" semantics.
func (t *Table) ClearComponent(entity uint32, typeID uint16) {
	delete(t.entries, key{entity, typeID})
}

// ClearEntity removes every entry for entity, across all component
// types. Called on entity destruction.
func (t *Table) ClearEntity(entity uint32) {
	for k := range t.entries {
		if k.entity == entity {
			delete(t.entries, k)
		}
	}
}

// GetChangedParts compares two equal-length payloads part-by-part and
// returns a [PartDescriptor] marking every part that differs. a and b
// must have the same length. Each part is ceil(len/[PartsPerDescriptor])
// bytes and the final part holds what is left, so it may be shorter;
// a length that is not a multiple of [PartsPerDescriptor] can yield
// fewer than [PartsPerDescriptor] parts.
func GetChangedParts(a, b []byte) PartDescriptor {
	var desc PartDescriptor

	if len(a) != len(b) || len(a) == 0 {
		return desc
	}

	partSize := (len(a) + PartsPerDescriptor - 1) / PartsPerDescriptor
	if partSize == 0 {
		partSize = 1
	}

	for part := 0; part*partSize < len(a); part++ {
		start := part * partSize
		end := min(start+partSize, len(a))

		if !bytesEqual(a[start:end], b[start:end]) {
			desc.Set(part)
		}
	}

	return desc
}

// CopyParts copies from src to dst only the parts marked in desc. dst
// and src must be equal length.
func CopyParts(dst, src []byte, desc PartDescriptor) {
	if len(dst) != len(src) || len(src) == 0 {
		return
	}

	partSize := (len(src) + PartsPerDescriptor - 1) / PartsPerDescriptor
	if partSize == 0 {
		partSize = 1
	}

	for part := 0; part*partSize < len(src); part++ {
		if !desc.Test(part) {
			continue
		}

		start := part * partSize
		end := min(start+partSize, len(src))
		copy(dst[start:end], src[start:end])
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
