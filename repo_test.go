package ecsflight

import (
	"errors"
	"testing"

	"github.com/flightcore/ecsflight/internal/phase"
)

type Position struct {
	X, Y int32
}

type Name struct {
	Value string
}

func (Name) ECSTransient() {} // managed and marked Transient, so it is not snapshotable

func newTestRepo(t *testing.T) *Repo {
	t.Helper()

	cfg := DefaultConfig()
	cfg.ChunkSizeBytes = 64 * 1024
	cfg.InitialReservationBytes = 4 * cfg.ChunkSizeBytes
	cfg.PhaseConfig = phase.RelaxedConfig()

	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Cleanup(func() { _ = r.Close() })

	return r
}

func Test_CreateEntity_Then_IsAlive(t *testing.T) {
	r := newTestRepo(t)

	e, err := r.CreateEntity()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if !r.IsAlive(e) {
		t.Fatalf("newly created entity should be alive")
	}
}

func Test_DestroyEntity_Appends_To_Destruction_Log(t *testing.T) {
	r := newTestRepo(t)

	e, _ := r.CreateEntity()
	if err := r.DestroyEntity(e); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	log := r.GetDestructionLog()
	if len(log) != 1 || log[0] != e {
		t.Fatalf("log=%+v, want [%+v]", log, e)
	}

	r.ClearDestructionLog()

	if got := len(r.GetDestructionLog()); got != 0 {
		t.Fatalf("log length after clear=%d, want 0", got)
	}
}

func Test_AddComponent_Sets_Mask_Then_RemoveComponent_Clears_It(t *testing.T) {
	r := newTestRepo(t)

	if _, err := RegisterComponent[Position](r, RegisterOptions{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	e, _ := r.CreateEntity()

	if err := AddComponent(r, e, Position{X: 1, Y: 2}); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := GetRO[Position](r, e)
	if err != nil {
		t.Fatalf("get ro: %v", err)
	}

	if got != (Position{X: 1, Y: 2}) {
		t.Fatalf("got=%+v, want {1 2}", got)
	}

	if err := RemoveComponent[Position](r, e); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := GetRO[Position](r, e); !errors.Is(err, ErrNoSuchComponent) {
		t.Fatalf("err=%v, want ErrNoSuchComponent after remove", err)
	}
}

func Test_GetRW_Mutates_Stored_Value_In_Place(t *testing.T) {
	r := newTestRepo(t)

	RegisterComponent[Position](r, RegisterOptions{})

	e, _ := r.CreateEntity()
	AddComponent(r, e, Position{X: 1, Y: 1})

	ptr, err := GetRW[Position](r, e)
	if err != nil {
		t.Fatalf("get rw: %v", err)
	}

	ptr.X = 99

	got, _ := GetRO[Position](r, e)
	if got.X != 99 {
		t.Fatalf("got.X=%d, want 99", got.X)
	}
}

func Test_Set_Overwrites_Component_Value(t *testing.T) {
	r := newTestRepo(t)

	RegisterComponent[Position](r, RegisterOptions{})

	e, _ := r.CreateEntity()
	AddComponent(r, e, Position{X: 1, Y: 1})

	if err := Set(r, e, Position{X: 5, Y: 6}); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, _ := GetRO[Position](r, e)
	if got != (Position{X: 5, Y: 6}) {
		t.Fatalf("got=%+v, want {5 6}", got)
	}
}

func Test_AddManagedComponent_Round_Trips_Through_Codec(t *testing.T) {
	r := newTestRepo(t)

	if _, err := RegisterComponent[Name](r, RegisterOptions{Managed: true}); err != nil {
		t.Fatalf("register managed: %v", err)
	}

	e, _ := r.CreateEntity()

	if err := AddManagedComponent(r, e, Name{Value: "Alpha"}); err != nil {
		t.Fatalf("add managed: %v", err)
	}

	got, err := GetManaged[Name](r, e)
	if err != nil {
		t.Fatalf("get managed: %v", err)
	}

	if got.Value != "Alpha" {
		t.Fatalf("got=%+v, want Alpha", got)
	}

	h, err := r.index.GetHeader(e.Index)
	if err != nil {
		t.Fatalf("get header: %v", err)
	}

	info, _ := r.reg.Lookup(tokenOf[Name]())
	if !h.ComponentMask.Test(int(info.TypeID)) {
		t.Fatalf("managed component mask bit not set after add")
	}
}

type mutableRefComponent struct {
	Tags []string
}

func Test_RegisterComponent_Managed_Non_Transient_Reference_Type_Fails(t *testing.T) {
	r := newTestRepo(t)

	_, err := RegisterComponent[mutableRefComponent](r, RegisterOptions{Managed: true})
	if !errors.Is(err, ErrMisconfiguration) {
		t.Fatalf("err=%v, want ErrMisconfiguration", err)
	}
}

func Test_Presentation_Phase_Rejects_Every_Write(t *testing.T) {
	r := newTestRepo(t)
	r.machine = phaseMachineDefault(t, phase.Presentation)

	RegisterComponent[Position](r, RegisterOptions{})

	e, err := r.CreateEntity()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := AddComponent(r, e, Position{X: 1, Y: 1}); !errors.Is(err, phase.ErrPhaseViolation) {
		t.Fatalf("err=%v, want ErrPhaseViolation writing during Presentation", err)
	}
}

func Test_Simulation_Phase_Rejects_Writes_On_Remote_Authority_Components(t *testing.T) {
	r := newTestRepo(t)

	RegisterComponent[Position](r, RegisterOptions{})

	e, _ := r.CreateEntity()
	AddComponent(r, e, Position{X: 1, Y: 1}) // under relaxed config for setup

	r.machine = phaseMachineDefault(t, phase.Simulation)

	if err := SetAuthority[Position](r, e, false); err != nil {
		t.Fatalf("set authority: %v", err)
	}

	if _, err := GetRW[Position](r, e); !errors.Is(err, phase.ErrPhaseViolation) {
		t.Fatalf("err=%v, want ErrPhaseViolation for remote-owned write in Simulation", err)
	}

	if err := SetAuthority[Position](r, e, true); err != nil {
		t.Fatalf("set authority: %v", err)
	}

	if _, err := GetRW[Position](r, e); err != nil {
		t.Fatalf("locally-owned write in Simulation should be allowed: %v", err)
	}
}

func phaseMachineDefault(t *testing.T, start string) *phase.Machine {
	t.Helper()

	return phase.New(phase.DefaultConfig(), start)
}

func Test_Query_With_And_Without_Filters_Entities(t *testing.T) {
	r := newTestRepo(t)

	RegisterComponent[Position](r, RegisterOptions{})
	RegisterComponent[Name](r, RegisterOptions{Managed: true})

	eBoth, _ := r.CreateEntity()
	AddComponent(r, eBoth, Position{})
	AddManagedComponent(r, eBoth, Name{Value: "both"})

	eOnlyPos, _ := r.CreateEntity()
	AddComponent(r, eOnlyPos, Position{})

	q, err := r.Query(With[Position](), Without[Name]())
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	var got []Entity

	for {
		e, ok := q.Next()
		if !ok {
			break
		}

		got = append(got, e)
	}

	if len(got) != 1 || got[0] != eOnlyPos {
		t.Fatalf("got=%+v, want only [%+v]", got, eOnlyPos)
	}
}

func Test_Query_Is_Restartable(t *testing.T) {
	r := newTestRepo(t)

	RegisterComponent[Position](r, RegisterOptions{})

	e, _ := r.CreateEntity()
	AddComponent(r, e, Position{})

	q, _ := r.Query(With[Position]())

	first := 0
	for {
		if _, ok := q.Next(); !ok {
			break
		}

		first++
	}

	q.Reset()

	second := 0
	for {
		if _, ok := q.Next(); !ok {
			break
		}

		second++
	}

	if first != second || first != 1 {
		t.Fatalf("first=%d second=%d, want both 1", first, second)
	}
}

func Test_GetSingletonUnmanaged_Creates_Once_And_Persists(t *testing.T) {
	r := newTestRepo(t)

	RegisterComponent[Position](r, RegisterOptions{})

	ptr, err := GetSingletonUnmanaged[Position](r)
	if err != nil {
		t.Fatalf("get singleton: %v", err)
	}

	ptr.X = 42

	again, err := GetSingletonUnmanaged[Position](r)
	if err != nil {
		t.Fatalf("get singleton again: %v", err)
	}

	if again.X != 42 {
		t.Fatalf("singleton did not persist across calls: got %d", again.X)
	}
}

func Test_HydrateEntity_Forces_Activation(t *testing.T) {
	r := newTestRepo(t)

	e, err := r.HydrateEntity(5, 3)
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}

	if !r.IsAlive(e) {
		t.Fatalf("hydrated entity should be alive")
	}

	if e.Index != 5 || e.Generation != 3 {
		t.Fatalf("e=%+v, want index 5 generation 3", e)
	}
}

func Test_Tick_Increments_Global_Version(t *testing.T) {
	r := newTestRepo(t)

	if r.GlobalVersion() != 0 {
		t.Fatalf("initial global version=%d, want 0", r.GlobalVersion())
	}

	r.Tick()
	r.Tick()

	if r.GlobalVersion() != 2 {
		t.Fatalf("global version=%d, want 2", r.GlobalVersion())
	}
}
