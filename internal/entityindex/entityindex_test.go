package entityindex

import (
	"errors"
	"testing"
)

const (
	testChunkBytes = 64 * 1024
	testReserve    = 16 * testChunkBytes
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()

	idx, err := New(testChunkBytes, testReserve)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Cleanup(func() { _ = idx.Close() })

	return idx
}

func Test_CreateEntity_Then_IsAlive(t *testing.T) {
	idx := newTestIndex(t)

	e, err := idx.CreateEntity()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if !idx.IsAlive(e) {
		t.Fatalf("newly created entity should be alive")
	}
}

func Test_DestroyEntity_Then_IsAlive_Is_False(t *testing.T) {
	idx := newTestIndex(t)

	e, _ := idx.CreateEntity()

	if err := idx.DestroyEntity(e); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	if idx.IsAlive(e) {
		t.Fatalf("destroyed entity should not be alive")
	}
}

func Test_DestroyEntity_Of_Dead_Entity_Fails(t *testing.T) {
	idx := newTestIndex(t)

	e, _ := idx.CreateEntity()
	_ = idx.DestroyEntity(e)

	err := idx.DestroyEntity(e)
	if !errors.Is(err, ErrDeadEntity) {
		t.Fatalf("err=%v, want ErrDeadEntity", err)
	}
}

func Test_Destroy_Then_Recreate_Increments_Generation(t *testing.T) {
	idx := newTestIndex(t)

	e1, _ := idx.CreateEntity()
	_ = idx.DestroyEntity(e1)

	e2, err := idx.CreateEntity()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if e2.Index != e1.Index {
		t.Fatalf("expected slot reuse: got index %d, want %d", e2.Index, e1.Index)
	}

	if e2.Generation != e1.Generation+1 {
		t.Fatalf("generation=%d, want=%d", e2.Generation, e1.Generation+1)
	}

	if idx.IsAlive(e1) {
		t.Fatalf("stale handle e1 must not be alive after reuse")
	}
}

func Test_ActiveCount_Tracks_Create_And_Destroy(t *testing.T) {
	idx := newTestIndex(t)

	e1, _ := idx.CreateEntity()
	_, _ = idx.CreateEntity()

	if got, want := idx.ActiveCount(), 2; got != want {
		t.Fatalf("activeCount=%d, want=%d", got, want)
	}

	_ = idx.DestroyEntity(e1)

	if got, want := idx.ActiveCount(), 1; got != want {
		t.Fatalf("activeCount=%d, want=%d", got, want)
	}
}

func Test_Free_List_Preference_Returns_Gap_Slot(t *testing.T) {
	idx := newTestIndex(t)

	var entities []Entity
	for i := 0; i < 5; i++ {
		e, _ := idx.CreateEntity()
		entities = append(entities, e)
	}

	_ = idx.DestroyEntity(entities[1]) // free slot index 1

	idx.RebuildFreeList()

	next, err := idx.CreateEntity()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if got, want := next.Index, uint32(1); got != want {
		t.Fatalf("next entity index=%d, want gap slot %d", got, want)
	}
}

func Test_RebuildMetadata_Recomputes_ActiveCount_And_FreeList(t *testing.T) {
	idx := newTestIndex(t)

	var entities []Entity
	for i := 0; i < 9; i++ {
		e, _ := idx.CreateEntity()
		entities = append(entities, e)
	}

	for _, i := range []int{0, 2, 4, 6, 8} {
		_ = idx.DestroyEntity(entities[i])
	}

	idx.RebuildMetadata()

	if got, want := idx.ActiveCount(), 4; got != want {
		t.Fatalf("activeCount=%d, want=%d", got, want)
	}

	next, err := idx.CreateEntity()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if got, want := next.Index, uint32(0); got != want {
		t.Fatalf("next slot=%d, want=%d (ascending gap order)", got, want)
	}
}

func Test_ForceRestoreEntity_Overwrites_Header_Unconditionally(t *testing.T) {
	idx := newTestIndex(t)

	var mask Bitmap256
	mask.Set(3)

	if err := idx.ForceRestoreEntity(0, true, 7, mask); err != nil {
		t.Fatalf("force restore: %v", err)
	}

	h, err := idx.GetHeader(0)
	if err != nil {
		t.Fatalf("get header: %v", err)
	}

	if !h.Active || h.Generation != 7 || !h.ComponentMask.Test(3) {
		t.Fatalf("header=%+v, want active=true generation=7 mask bit 3 set", h)
	}
}

func Test_GetChunkLiveness_Reflects_Header_Active_Bits(t *testing.T) {
	idx := newTestIndex(t)

	e0, _ := idx.CreateEntity()
	e1, _ := idx.CreateEntity()
	_ = idx.DestroyEntity(e1)
	_ = e0

	liveness := make([]bool, idx.Capacity())
	if err := idx.GetChunkLiveness(0, liveness); err != nil {
		t.Fatalf("get chunk liveness: %v", err)
	}

	if !liveness[0] {
		t.Fatalf("slot 0 should be live")
	}

	if liveness[1] {
		t.Fatalf("slot 1 should be dead")
	}
}

func Test_Clear_Resets_Index(t *testing.T) {
	idx := newTestIndex(t)

	_, _ = idx.CreateEntity()
	_, _ = idx.CreateEntity()

	idx.Clear()

	if got, want := idx.ActiveCount(), 0; got != want {
		t.Fatalf("activeCount=%d, want=%d after clear", got, want)
	}
}

func Test_Bitmap256_Set_Clear_Test(t *testing.T) {
	var b Bitmap256

	b.Set(0)
	b.Set(255)

	if !b.Test(0) || !b.Test(255) {
		t.Fatalf("expected bits 0 and 255 set")
	}

	if b.Test(1) {
		t.Fatalf("bit 1 should not be set")
	}

	b.Clear(0)

	if b.Test(0) {
		t.Fatalf("bit 0 should be cleared")
	}
}
