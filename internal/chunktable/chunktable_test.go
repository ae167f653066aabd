package chunktable

import (
	"errors"
	"testing"
)

const testChunkBytes = 64 * 1024

func newTestTable(t *testing.T, elementSize uint32) *Table {
	t.Helper()

	tbl, err := New(elementSize, testChunkBytes, 16*testChunkBytes)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Cleanup(func() { _ = tbl.Close() })

	return tbl
}

func Test_New_Rejects_Zero_Element_Size(t *testing.T) {
	_, err := New(0, testChunkBytes, testChunkBytes)

	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err=%v, want ErrInvalidArgument", err)
	}
}

func Test_New_Rejects_Element_Size_Larger_Than_Chunk(t *testing.T) {
	_, err := New(testChunkBytes+1, testChunkBytes, testChunkBytes)

	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err=%v, want ErrInvalidArgument", err)
	}
}

func Test_Capacity_Is_ChunkBytes_Divided_By_ElementSize(t *testing.T) {
	tbl := newTestTable(t, 4)

	if got, want := tbl.Capacity(), testChunkBytes/4; got != want {
		t.Fatalf("capacity=%d, want=%d", got, want)
	}
}

func Test_GetRef_Fails_NotPresent_Before_SetPresent(t *testing.T) {
	tbl := newTestTable(t, 4)

	if err := tbl.EnsureCapacity(0); err != nil {
		t.Fatalf("ensure capacity: %v", err)
	}

	_, err := tbl.GetRef(0)
	if !errors.Is(err, ErrNotPresent) {
		t.Fatalf("err=%v, want ErrNotPresent", err)
	}
}

func Test_SetPresent_Then_GetRef_Allows_Write_And_Read_Back(t *testing.T) {
	tbl := newTestTable(t, 4)

	if err := tbl.EnsureCapacity(0); err != nil {
		t.Fatalf("ensure capacity: %v", err)
	}

	tbl.SetPresent(0, true)

	ref, err := tbl.GetRef(0)
	if err != nil {
		t.Fatalf("get ref: %v", err)
	}

	ref[0], ref[1], ref[2], ref[3] = 1, 2, 3, 4

	ref2, err := tbl.GetRef(0)
	if err != nil {
		t.Fatalf("get ref again: %v", err)
	}

	want := []byte{1, 2, 3, 4}
	for i := range want {
		if ref2[i] != want[i] {
			t.Fatalf("byte %d=%d, want=%d", i, ref2[i], want[i])
		}
	}
}

func Test_EnsureCapacity_Only_Commits_The_Touched_Chunk(t *testing.T) {
	tbl := newTestTable(t, 4)

	cap := tbl.Capacity()

	if err := tbl.EnsureCapacity(cap + 1); err != nil { // lands in chunk 1
		t.Fatalf("ensure capacity: %v", err)
	}

	if got, want := tbl.NumChunks(), 2; got != want {
		t.Fatalf("numChunks=%d, want=%d", got, want)
	}

	meta0, err := tbl.ChunkMeta(0)
	if err != nil {
		t.Fatalf("chunk meta 0: %v", err)
	}

	if meta0.committed {
		t.Fatalf("chunk 0 should not be committed when only slot in chunk 1 was touched")
	}
}

func Test_Touch_Stamps_Chunk_Version_And_Dirty(t *testing.T) {
	tbl := newTestTable(t, 4)

	if err := tbl.EnsureCapacity(0); err != nil {
		t.Fatalf("ensure capacity: %v", err)
	}

	if err := tbl.Touch(0, 7); err != nil {
		t.Fatalf("touch: %v", err)
	}

	meta, err := tbl.ChunkMeta(0)
	if err != nil {
		t.Fatalf("chunk meta: %v", err)
	}

	if got, want := meta.Version, uint64(7); got != want {
		t.Fatalf("version=%d, want=%d", got, want)
	}

	if !meta.Dirty {
		t.Fatalf("dirty flag not set after touch")
	}
}

func Test_Touch_Never_Lowers_Chunk_Version(t *testing.T) {
	tbl := newTestTable(t, 4)

	if err := tbl.EnsureCapacity(0); err != nil {
		t.Fatalf("ensure capacity: %v", err)
	}

	_ = tbl.Touch(0, 10)
	_ = tbl.Touch(0, 3)

	meta, _ := tbl.ChunkMeta(0)
	if got, want := meta.Version, uint64(10); got != want {
		t.Fatalf("version=%d, want=%d (must not regress)", got, want)
	}
}

func Test_CopyChunkToBuffer_Then_RestoreChunkFromBuffer_Round_Trips_Bytes(t *testing.T) {
	tbl := newTestTable(t, 4)

	if err := tbl.EnsureCapacity(0); err != nil {
		t.Fatalf("ensure capacity: %v", err)
	}

	tbl.SetPresent(0, true)
	ref, _ := tbl.GetRef(0)
	copy(ref, []byte{9, 9, 9, 9})

	buf := make([]byte, testChunkBytes)
	n, err := tbl.CopyChunkToBuffer(0, buf)
	if err != nil {
		t.Fatalf("copy to buffer: %v", err)
	}

	if n != testChunkBytes {
		t.Fatalf("n=%d, want=%d", n, testChunkBytes)
	}

	tbl2 := newTestTable(t, 4)
	if err := tbl2.RestoreChunkFromBuffer(0, buf); err != nil {
		t.Fatalf("restore: %v", err)
	}

	tbl2.SetPresent(0, true)

	ref2, err := tbl2.GetRef(0)
	if err != nil {
		t.Fatalf("get ref after restore: %v", err)
	}

	want := []byte{9, 9, 9, 9}
	for i := range want {
		if ref2[i] != want[i] {
			t.Fatalf("byte %d=%d, want=%d", i, ref2[i], want[i])
		}
	}
}

func Test_SanitizeChunk_Zeroes_Dead_Slots_Only(t *testing.T) {
	tbl := newTestTable(t, 4)

	if err := tbl.EnsureCapacity(1); err != nil {
		t.Fatalf("ensure capacity: %v", err)
	}

	tbl.SetPresent(0, true)
	tbl.SetPresent(1, true)

	ref0, _ := tbl.GetRef(0)
	copy(ref0, []byte{1, 1, 1, 1})
	ref1, _ := tbl.GetRef(1)
	copy(ref1, []byte{2, 2, 2, 2})

	liveness := make([]bool, tbl.Capacity())
	liveness[0] = true
	// slot 1 is dead.

	if err := tbl.SanitizeChunk(0, liveness); err != nil {
		t.Fatalf("sanitize: %v", err)
	}

	tbl.SetPresent(1, false)

	bytes0, _ := tbl.arena.Slice(0, 4)
	for i, b := range bytes0 {
		if b != 1 {
			t.Fatalf("live slot 0 byte %d = %d, want 1 (untouched)", i, b)
		}
	}

	bytes1, _ := tbl.arena.Slice(4, 4)
	for i, b := range bytes1 {
		if b != 0 {
			t.Fatalf("dead slot 1 byte %d = %d, want 0", i, b)
		}
	}
}

func Test_SetChunkPresence_Overwrites_Presence_Bits_For_Whole_Chunk(t *testing.T) {
	tbl := newTestTable(t, 4)

	tbl.EnsureCapacity(0)
	tbl.SetPresent(0, true)
	tbl.SetPresent(1, true)

	liveness := make([]bool, tbl.Capacity())
	liveness[0] = true
	liveness[2] = true

	tbl.SetChunkPresence(0, liveness)

	if !tbl.IsPresent(0) {
		t.Fatalf("slot 0 should remain present")
	}

	if tbl.IsPresent(1) {
		t.Fatalf("slot 1 should no longer be present")
	}

	if !tbl.IsPresent(2) {
		t.Fatalf("slot 2 should now be present")
	}
}
