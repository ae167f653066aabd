package recorder

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	ecs "github.com/flightcore/ecsflight"
	"github.com/flightcore/ecsflight/internal/phase"
	"github.com/flightcore/ecsflight/pkg/fs"
)

// The fixture schema mirrors the shape every recording-protocol test
// needs: one fixed-size column, one managed column, one event type.
// The process-wide registry keeps type ids stable across the capture
// and replay repos; both still come from the same constructor so each
// repo grows a column for every fixture type.
type Counter struct {
	V int32
}

type Label struct {
	Value string
}

type SimpleEvent struct {
	Code int32
}

func newTestRepo(t *testing.T) *ecs.Repo {
	t.Helper()

	cfg := ecs.DefaultConfig()
	cfg.ChunkSizeBytes = 64 * 1024
	cfg.InitialReservationBytes = 4 * cfg.ChunkSizeBytes
	cfg.PhaseConfig = phase.RelaxedConfig()

	r, err := ecs.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Cleanup(func() { _ = r.Close() })

	if _, err := ecs.RegisterComponent[Counter](r, ecs.RegisterOptions{}); err != nil {
		t.Fatalf("register Counter: %v", err)
	}

	if _, err := ecs.RegisterComponent[Label](r, ecs.RegisterOptions{Managed: true}); err != nil {
		t.Fatalf("register Label: %v", err)
	}

	if _, err := ecs.RegisterComponent[SimpleEvent](r, ecs.RegisterOptions{}); err != nil {
		t.Fatalf("register SimpleEvent: %v", err)
	}

	return r
}

// writeRecording concatenates already-encoded frames into a recording
// file, bypassing the AsyncRecorder: playback tests want deterministic
// file contents, and the writer has its own tests in writer_test.go.
func writeRecording(t *testing.T, frames ...[]byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "rec.ecsf")

	var all []byte
	for _, f := range frames {
		all = append(all, f...)
	}

	if err := os.WriteFile(path, all, 0o644); err != nil {
		t.Fatalf("write recording: %v", err)
	}

	return path
}

// applyAll replays every frame in path into repo and returns how many
// frames applied cleanly.
func applyAll(t *testing.T, repo *ecs.Repo, path string) int {
	t.Helper()

	rd, err := NewReader(path, fs.NewReal())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer rd.Close()

	var sys PlaybackSystem

	applied := 0

	for {
		ok, err := sys.ApplyFrame(repo, rd)
		if err != nil {
			t.Fatalf("ApplyFrame %d: %v", applied, err)
		}

		if !ok {
			break
		}

		applied++
	}

	return applied
}

func mustKeyframe(t *testing.T, repo *ecs.Repo) []byte {
	t.Helper()

	data, err := CaptureKeyframe(repo)
	if err != nil {
		t.Fatalf("CaptureKeyframe: %v", err)
	}

	return data
}

func mustDelta(t *testing.T, repo *ecs.Repo, baseTick uint64) []byte {
	t.Helper()

	data, err := CaptureDelta(repo, baseTick, false)
	if err != nil {
		t.Fatalf("CaptureDelta(base=%d): %v", baseTick, err)
	}

	return data
}

// Scenario A: keyframe-only round trip.
func Test_Keyframe_Round_Trip_Restores_Entities_And_Values(t *testing.T) {
	src := newTestRepo(t)
	src.Tick()

	e1, err := src.CreateEntity()
	if err != nil {
		t.Fatalf("create e1: %v", err)
	}

	if err := ecs.AddComponent(src, e1, Counter{V: 42}); err != nil {
		t.Fatalf("add Counter to e1: %v", err)
	}

	e2, err := src.CreateEntity()
	if err != nil {
		t.Fatalf("create e2: %v", err)
	}

	if err := ecs.AddComponent(src, e2, Counter{V: 100}); err != nil {
		t.Fatalf("add Counter to e2: %v", err)
	}

	path := writeRecording(t, mustKeyframe(t, src))

	dst := newTestRepo(t)

	if n := applyAll(t, dst, path); n != 1 {
		t.Fatalf("applied %d frames, want 1", n)
	}

	if got := dst.EntityIndex().ActiveCount(); got != 2 {
		t.Errorf("active count = %d, want 2", got)
	}

	if got := dst.GlobalVersion(); got != src.GlobalVersion() {
		t.Errorf("global version = %d, want %d", got, src.GlobalVersion())
	}

	for _, tc := range []struct {
		e    ecs.Entity
		want int32
	}{
		{e1, 42},
		{e2, 100},
	} {
		if !dst.IsAlive(tc.e) {
			t.Fatalf("entity %+v not alive after restore", tc.e)
		}

		got, err := ecs.GetRO[Counter](dst, tc.e)
		if err != nil {
			t.Fatalf("GetRO(%+v): %v", tc.e, err)
		}

		if got.V != tc.want {
			t.Errorf("entity %+v value = %d, want %d", tc.e, got.V, tc.want)
		}
	}
}

// Keyframes are self-contained: applying one must replace whatever
// state the target repository accumulated beforehand.
func Test_Keyframe_Replaces_Preexisting_State(t *testing.T) {
	src := newTestRepo(t)
	src.Tick()

	e, err := src.CreateEntity()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := ecs.AddComponent(src, e, Counter{V: 7}); err != nil {
		t.Fatalf("add: %v", err)
	}

	path := writeRecording(t, mustKeyframe(t, src))

	dst := newTestRepo(t)

	for i := 0; i < 5; i++ {
		stale, err := dst.CreateEntity()
		if err != nil {
			t.Fatalf("create stale entity: %v", err)
		}

		if err := ecs.AddComponent(dst, stale, Counter{V: 999}); err != nil {
			t.Fatalf("add stale component: %v", err)
		}
	}

	applyAll(t, dst, path)

	if got := dst.EntityIndex().ActiveCount(); got != 1 {
		t.Errorf("active count = %d, want 1", got)
	}

	got, err := ecs.GetRO[Counter](dst, e)
	if err != nil {
		t.Fatalf("GetRO: %v", err)
	}

	if got.V != 7 {
		t.Errorf("value = %d, want 7", got.V)
	}
}

// Scenario B: a delta's destruction log applies on top of
// the preceding keyframe.
func Test_Delta_Applies_Destruction_Log_After_Keyframe(t *testing.T) {
	src := newTestRepo(t)
	src.Tick()

	e1, _ := src.CreateEntity()
	if err := ecs.AddComponent(src, e1, Counter{V: 42}); err != nil {
		t.Fatalf("add to e1: %v", err)
	}

	e2, _ := src.CreateEntity()
	if err := ecs.AddComponent(src, e2, Counter{V: 100}); err != nil {
		t.Fatalf("add to e2: %v", err)
	}

	kf := mustKeyframe(t, src)
	base := uint64(src.GlobalVersion())

	src.Tick()

	if err := src.DestroyEntity(e2); err != nil {
		t.Fatalf("destroy e2: %v", err)
	}

	delta := mustDelta(t, src, base)

	dst := newTestRepo(t)

	if n := applyAll(t, dst, writeRecording(t, kf, delta)); n != 2 {
		t.Fatalf("applied %d frames, want 2", n)
	}

	if got := dst.EntityIndex().ActiveCount(); got != 1 {
		t.Errorf("active count = %d, want 1", got)
	}

	if dst.IsAlive(e2) {
		t.Error("e2 still alive after replaying its destruction")
	}

	got, err := ecs.GetRO[Counter](dst, e1)
	if err != nil {
		t.Fatalf("GetRO(e1): %v", err)
	}

	if got.V != 42 {
		t.Errorf("e1 value = %d, want 42", got.V)
	}
}

// Delta composition: keyframe(S0) + delta(S1)
// replayed in order equals S1.
func Test_Delta_Composition_Reproduces_Later_State(t *testing.T) {
	src := newTestRepo(t)
	src.Tick()

	e, _ := src.CreateEntity()
	if err := ecs.AddComponent(src, e, Counter{V: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}

	kf := mustKeyframe(t, src)
	base := uint64(src.GlobalVersion())

	src.Tick()

	if err := ecs.Set(src, e, Counter{V: 2}); err != nil {
		t.Fatalf("set: %v", err)
	}

	delta := mustDelta(t, src, base)

	dst := newTestRepo(t)
	applyAll(t, dst, writeRecording(t, kf, delta))

	got, err := ecs.GetRO[Counter](dst, e)
	if err != nil {
		t.Fatalf("GetRO: %v", err)
	}

	if got.V != 2 {
		t.Errorf("value = %d, want 2 (the post-delta state)", got.V)
	}

	if diff := cmp.Diff(src.Snapshot(), dst.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch after delta composition (-src +dst):\n%s", diff)
	}
}

// Scenario C: sparse restore rebuilds the free list so the
// next create_entity fills the lowest gap.
func Test_Sparse_Restore_Prefers_Gap_Slot_On_Next_Create(t *testing.T) {
	src := newTestRepo(t)
	src.Tick()

	entities := make([]ecs.Entity, 10)

	for i := range entities {
		e, err := src.CreateEntity()
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}

		if err := ecs.AddComponent(src, e, Counter{V: int32(i * 10)}); err != nil {
			t.Fatalf("add to %d: %v", i, err)
		}

		entities[i] = e
	}

	for i := 1; i < 10; i += 2 {
		if err := src.DestroyEntity(entities[i]); err != nil {
			t.Fatalf("destroy %d: %v", i, err)
		}
	}

	src.Tick()

	dst := newTestRepo(t)
	applyAll(t, dst, writeRecording(t, mustKeyframe(t, src)))

	if got := dst.EntityIndex().ActiveCount(); got != 5 {
		t.Errorf("active count = %d, want 5", got)
	}

	for i := 0; i < 10; i += 2 {
		got, err := ecs.GetRO[Counter](dst, entities[i])
		if err != nil {
			t.Fatalf("GetRO(slot %d): %v", i, err)
		}

		if got.V != int32(i*10) {
			t.Errorf("slot %d value = %d, want %d", i, got.V, i*10)
		}
	}

	next, err := dst.CreateEntity()
	if err != nil {
		t.Fatalf("create after restore: %v", err)
	}

	if next.Index != 1 || next.Generation != 1 {
		t.Errorf("next entity = (%d,%d), want gap slot (1,1)", next.Index, next.Generation)
	}
}

// Sanitization: after restore, component bytes
// for dead slots are zero even though the captured chunk carried the
// destroyed entities' stale values verbatim.
func Test_Restore_Zeroes_Component_Bytes_Of_Dead_Slots(t *testing.T) {
	src := newTestRepo(t)
	src.Tick()

	e1, _ := src.CreateEntity()
	if err := ecs.AddComponent(src, e1, Counter{V: 11}); err != nil {
		t.Fatalf("add to e1: %v", err)
	}

	e2, _ := src.CreateEntity()
	if err := ecs.AddComponent(src, e2, Counter{V: 22}); err != nil {
		t.Fatalf("add to e2: %v", err)
	}

	if err := src.DestroyEntity(e2); err != nil {
		t.Fatalf("destroy e2: %v", err)
	}

	src.Tick()

	dst := newTestRepo(t)
	applyAll(t, dst, writeRecording(t, mustKeyframe(t, src)))

	info, err := ecs.RegisterComponent[Counter](dst, ecs.RegisterOptions{})
	if err != nil {
		t.Fatalf("lookup Counter info: %v", err)
	}

	tbl, ok := dst.ComponentTable(info.TypeID)
	if !ok {
		t.Fatal("no Counter column after restore")
	}

	raw, err := tbl.RawRef(int(e2.Index))
	if err != nil {
		t.Fatalf("RawRef(dead slot): %v", err)
	}

	for i, b := range raw {
		if b != 0 {
			t.Fatalf("dead slot byte %d = %#x, want 0", i, b)
		}
	}
}

// Scenario D: the managed-restore regression. Replay must
// set the component mask bit for managed records, not just the payload,
// or queries silently miss the entity.
func Test_Managed_Restore_Sets_Component_Mask_And_Data(t *testing.T) {
	src := newTestRepo(t)
	src.Tick()

	e, _ := src.CreateEntity()

	if err := ecs.AddManagedComponent(src, e, Label{Value: "Alpha"}); err != nil {
		t.Fatalf("add managed: %v", err)
	}

	dst := newTestRepo(t)
	applyAll(t, dst, writeRecording(t, mustKeyframe(t, src)))

	info, err := ecs.RegisterComponent[Label](dst, ecs.RegisterOptions{Managed: true})
	if err != nil {
		t.Fatalf("lookup Label info: %v", err)
	}

	h, err := dst.EntityIndex().GetHeader(e.Index)
	if err != nil {
		t.Fatalf("get header: %v", err)
	}

	if !h.ComponentMask.Test(int(info.TypeID)) {
		t.Error("component mask bit not set for managed component after restore")
	}

	q, err := dst.Query(ecs.With[Label]())
	if err != nil {
		t.Fatalf("build query: %v", err)
	}

	found, ok := q.Next()
	if !ok || found.Index != e.Index {
		t.Errorf("query over Label found %+v (ok=%v), want entity %+v", found, ok, e)
	}

	got, err := ecs.GetManaged[Label](dst, e)
	if err != nil {
		t.Fatalf("GetManaged: %v", err)
	}

	if got.Value != "Alpha" {
		t.Errorf("managed value = %q, want %q", got.Value, "Alpha")
	}
}

// Scenario F: events published before a capture are
// injected into the replay side's current buffer and consumable
// without a swap.
func Test_Event_Round_Trip_Through_Delta_Frame(t *testing.T) {
	src := newTestRepo(t)
	src.Tick()

	if err := ecs.PublishEvent(src, SimpleEvent{Code: 77}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	delta := mustDelta(t, src, 0)

	dst := newTestRepo(t)
	applyAll(t, dst, writeRecording(t, delta))

	got, err := ecs.ConsumeEvents[SimpleEvent](dst)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	want := []SimpleEvent{{Code: 77}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("replayed events mismatch (-want +got):\n%s", diff)
	}
}

// A delta whose base_tick has not been advanced past is a caller
// ordering bug, reported as ErrStaleCapture (or a panic under paranoid
// mode).
func Test_CaptureDelta_Rejects_Base_At_Or_After_Current_Tick(t *testing.T) {
	src := newTestRepo(t)
	src.Tick()

	if _, err := CaptureDelta(src, uint64(src.GlobalVersion()), false); !errors.Is(err, ErrStaleCapture) {
		t.Errorf("CaptureDelta(base == tick) error = %v, want ErrStaleCapture", err)
	}

	if _, err := CaptureDelta(src, uint64(src.GlobalVersion())+5, false); !errors.Is(err, ErrStaleCapture) {
		t.Errorf("CaptureDelta(base > tick) error = %v, want ErrStaleCapture", err)
	}
}

func Test_CaptureDelta_Panics_On_Stale_Base_In_Paranoid_Mode(t *testing.T) {
	src := newTestRepo(t)
	src.Tick()

	defer func() {
		if recover() == nil {
			t.Error("expected panic for stale base_tick under paranoid mode")
		}
	}()

	_, _ = CaptureDelta(src, uint64(src.GlobalVersion()), true)
}

// A delta must omit chunks untouched since base_tick: capturing right
// after a tick with no intervening writes carries no chunk payloads.
func Test_Delta_Omits_Chunks_Untouched_Since_Base(t *testing.T) {
	src := newTestRepo(t)
	src.Tick()

	e, _ := src.CreateEntity()
	if err := ecs.AddComponent(src, e, Counter{V: 5}); err != nil {
		t.Fatalf("add: %v", err)
	}

	base := uint64(src.GlobalVersion())

	src.Tick() // advance with no writes

	raw := mustDelta(t, src, base)

	h, payload, ok := verifyAndSplit(raw)
	if !ok {
		t.Fatal("self-captured delta failed verification")
	}

	f, err := parsePayload(h, payload, src.ChunkSizeBytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(f.ComponentChunks) != 0 {
		t.Errorf("delta carries %d component chunks, want 0", len(f.ComponentChunks))
	}

	if len(f.HeaderChunks) != 0 {
		t.Errorf("delta carries %d header chunks, want 0", len(f.HeaderChunks))
	}
}
