// Package ecsflight is a deterministic entity-component-store engine:
// dense generation-checked entity handles, chunked columnar component
// storage over a virtual-memory allocator, phase/authority-gated
// mutation, and a flight-recorder snapshotting subsystem (see the
// internal/recorder package).
package ecsflight

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/flightcore/ecsflight/internal/chunktable"
	"github.com/flightcore/ecsflight/internal/entityindex"
	"github.com/flightcore/ecsflight/internal/eventbus"
	"github.com/flightcore/ecsflight/internal/partmeta"
	"github.com/flightcore/ecsflight/internal/phase"
	"github.com/flightcore/ecsflight/internal/registry"
)

// Entity identifies a repository slot by dense index and generation.
type Entity = entityindex.Entity

// Config configures a [Repo]'s allocator and phase behavior. Zero value
// is not valid; use [DefaultConfig] as a starting point.
type Config struct {
	// ChunkSizeBytes is the per-column chunk granularity. Default 64 KiB.
	ChunkSizeBytes int
	// InitialReservationBytes is the per-type virtual address
	// reservation.
	InitialReservationBytes int
	// ParanoidMode enables extra precondition checks, including the
	// strict delta-after-tick assertion in the recorder.
	ParanoidMode bool
	// PhaseConfig governs valid phase transitions and per-phase
	// permissions.
	PhaseConfig phase.Config
	// Codec serializes managed component payloads. Defaults to
	// [GobCodec] when nil.
	Codec Codec
}

// DefaultConfig returns 64 KiB chunks over a 1 GiB per-type
// reservation, with [phase.DefaultConfig] as the starting phase
// configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSizeBytes:          64 * 1024,
		InitialReservationBytes: 1 << 30,
		PhaseConfig:             phase.DefaultConfig(),
	}
}

// column is one component type's storage: a byte-chunked table for the
// fixed-size payload (or a one-byte presence indicator, so managed
// types share the same mask/query surface) plus, for managed types,
// the out-of-band opaque-record map.
type column struct {
	info    registry.TypeInfo
	table   *chunktable.Table
	managed map[uint32][]byte
}

// Repo is the entity repository: the composition of the type registry, entity index, per-type chunk tables, metadata
// table and event bus, with every mutating call gated by the phase FSM
// and per-component authority bit.
type Repo struct {
	cfg     Config
	reg     *registry.Registry
	index   *entityindex.Index
	parts   *partmeta.Table
	bus     *eventbus.Bus
	machine *phase.Machine
	codec   Codec

	columns map[uint16]*column

	globalVersion uint32

	destructionLog []Entity

	singleton     Entity
	haveSingleton bool
}

// New creates a repository under cfg.
func New(cfg Config) (*Repo, error) {
	if cfg.ChunkSizeBytes <= 0 || cfg.InitialReservationBytes <= 0 {
		return nil, fmt.Errorf("chunk/reservation sizes must be positive: %w", ErrInvalidArgument)
	}

	idx, err := entityindex.New(cfg.ChunkSizeBytes, cfg.InitialReservationBytes)
	if err != nil {
		return nil, fmt.Errorf("create entity index: %w", err)
	}

	codec := cfg.Codec
	if codec == nil {
		codec = GobCodec{}
	}

	phaseCfg := cfg.PhaseConfig
	if phaseCfg.Permissions == nil {
		phaseCfg = phase.DefaultConfig()
	}

	return &Repo{
		cfg:     cfg,
		reg:     registry.Global(),
		index:   idx,
		parts:   partmeta.New(),
		bus:     eventbus.New(),
		machine: phase.New(phaseCfg, phase.Initialization),
		codec:   codec,
		columns: make(map[uint16]*column),
	}, nil
}

// Close releases every column's and the entity index's virtual address
// reservations.
func (r *Repo) Close() error {
	var firstErr error

	if err := r.index.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	for _, col := range r.columns {
		if err := col.table.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Registry exposes the underlying type registry, for the recorder and
// CLI inspection tooling.
func (r *Repo) Registry() *registry.Registry { return r.reg }

// EntityIndex exposes the underlying entity index, for the recorder.
func (r *Repo) EntityIndex() *entityindex.Index { return r.index }

// PartMeta exposes the metadata table, for the recorder.
func (r *Repo) PartMeta() *partmeta.Table { return r.parts }

// Events exposes the event bus shared by game code and the recorder.
func (r *Repo) Events() *eventbus.Bus { return r.bus }

// Phase exposes the phase machine so callers can transition phases and
// inspect the current one.
func (r *Repo) Phase() *phase.Machine { return r.machine }

// GlobalVersion returns the current monotonic write clock.
func (r *Repo) GlobalVersion() uint32 { return r.globalVersion }

// ColumnStats reports one component column's chunk-level footprint.
type ColumnStats struct {
	TypeID    uint16
	NumChunks int
	Managed   bool
}

// Stats is read-only introspection over a repository's current shape,
// kept off the mutating API surface.
type Stats struct {
	ActiveCount   int
	GlobalVersion uint32
	Phase         string
	Columns       []ColumnStats
}

// Snapshot reports repo's current high-level shape: active entity
// count, global version, current phase, and per-column chunk counts.
func (r *Repo) Snapshot() Stats {
	ids := r.ComponentTypeIDs()
	cols := make([]ColumnStats, 0, len(ids))

	for _, id := range ids {
		col := r.columns[id]
		cols = append(cols, ColumnStats{TypeID: id, NumChunks: col.table.NumChunks(), Managed: col.managed != nil})
	}

	return Stats{
		ActiveCount:   r.index.ActiveCount(),
		GlobalVersion: r.globalVersion,
		Phase:         r.machine.Current(),
		Columns:       cols,
	}
}

// Tick increments the global version.
func (r *Repo) Tick() {
	r.globalVersion++
}

// columnFor returns the column for a registered type id. Returns nil if
// no column exists yet; columns are created by [RegisterComponent].
func (r *Repo) columnFor(typeID uint16) *column {
	return r.columns[typeID]
}

// RegisterOptions customizes [RegisterComponent] beyond its defaults.
type RegisterOptions struct {
	// Managed marks T as stored out-of-band via [Config.Codec] rather
	// than as a fixed-size in-chunk record.
	Managed bool
	// SnapshotableOverride forces is_snapshotable, bypassing the
	// [Transient]-marker-derived default.
	SnapshotableOverride *bool
}

func tokenOf[T any]() any {
	var zero T

	return reflect.TypeOf(&zero).Elem()
}

func isTransient[T any]() bool {
	var zero T

	if _, ok := any(zero).(Transient); ok {
		return true
	}

	if _, ok := any(&zero).(Transient); ok {
		return true
	}

	return false
}

// containsReferenceKind reports whether t is, or contains through its
// struct fields and array elements, a kind that cannot be safely
// byte-copied into a snapshot without caller opt-in. Strings are not
// counted: their contents are immutable.
func containsReferenceKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface, reflect.UnsafePointer:
		return true
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if containsReferenceKind(t.Field(i).Type) {
				return true
			}
		}

		return false
	case reflect.Array:
		return containsReferenceKind(t.Elem())
	default:
		return false
	}
}

// RegisterComponent idempotently registers T, resolving
// is_snapshotable from the [Transient] marker unless overridden, and
// rejecting managed, non-Transient types that look like mutable
// reference types.
func RegisterComponent[T any](r *Repo, opts RegisterOptions) (registry.TypeInfo, error) {
	token := tokenOf[T]()
	rt := token.(reflect.Type)

	transient := isTransient[T]()
	snapshotable := !transient

	if opts.SnapshotableOverride != nil {
		snapshotable = *opts.SnapshotableOverride
	}

	elemSize := uint32(rt.Size())
	if elemSize == 0 {
		elemSize = 1 // zero-size struct{} components still need an indicator byte
	}

	if opts.Managed {
		if !transient && containsReferenceKind(rt) {
			return registry.TypeInfo{}, fmt.Errorf(
				"component %s is managed, not marked ecsflight.Transient, and its kind %s is or contains a reference kind; "+
					"mark it Transient or convert it to an immutable record: %w",
				rt, rt.Kind(), ErrMisconfiguration)
		}

		elemSize = 1
	}

	info, err := r.reg.Register(token, elemSize, opts.Managed, snapshotable)
	if err != nil {
		return registry.TypeInfo{}, err
	}

	if _, exists := r.columns[info.TypeID]; !exists {
		tbl, err := chunktable.New(elemSize, r.cfg.ChunkSizeBytes, r.cfg.InitialReservationBytes)
		if err != nil {
			return registry.TypeInfo{}, fmt.Errorf("create column for %s: %w", rt, ErrOutOfAddressSpace)
		}

		col := &column{info: info, table: tbl}
		if opts.Managed {
			col.managed = make(map[uint32][]byte)
		}

		r.columns[info.TypeID] = col
	}

	return info, nil
}

// CreateEntity creates a new entity.
func (r *Repo) CreateEntity() (Entity, error) {
	return r.index.CreateEntity()
}

// DestroyEntity destroys e, clearing its metadata-table rows and
// appending it to the per-tick destruction log.
func (r *Repo) DestroyEntity(e Entity) error {
	if err := r.index.DestroyEntity(e); err != nil {
		return err
	}

	r.parts.ClearEntity(e.Index)
	r.destructionLog = append(r.destructionLog, e)

	return nil
}

// IsAlive reports whether e is currently alive.
func (r *Repo) IsAlive(e Entity) bool { return r.index.IsAlive(e) }

// GetDestructionLog returns a copy of the per-tick destruction log,
// consumed by the recorder.
func (r *Repo) GetDestructionLog() []Entity {
	out := make([]Entity, len(r.destructionLog))
	copy(out, r.destructionLog)

	return out
}

// ClearDestructionLog empties the destruction log.
func (r *Repo) ClearDestructionLog() {
	r.destructionLog = r.destructionLog[:0]
}

// SetAuthority sets or clears the local-actor ownership bit for T on
// e.
func SetAuthority[T any](r *Repo, e Entity, owned bool) error {
	info, err := r.reg.Lookup(tokenOf[T]())
	if err != nil {
		return err
	}

	h, err := r.index.GetHeader(e.Index)
	if err != nil {
		return err
	}

	if owned {
		h.AuthorityMask.Set(int(info.TypeID))
	} else {
		h.AuthorityMask.Clear(int(info.TypeID))
	}

	return r.index.PutHeader(e.Index, h)
}

func (r *Repo) checkAccess(e Entity, typeID uint16, access phase.Access) error {
	h, err := r.index.GetHeader(e.Index)
	if err != nil {
		return err
	}

	return r.machine.Check(access, h.AuthorityMask.Test(int(typeID)))
}

// AddComponent adds an unmanaged component value to e and sets the
// corresponding component_mask bit.
func AddComponent[T any](r *Repo, e Entity, v T) error {
	col, info, err := lookupUnmanagedColumn[T](r)
	if err != nil {
		return err
	}

	if !r.index.IsAlive(e) {
		return fmt.Errorf("entity %+v: %w", e, entityindex.ErrDeadEntity)
	}

	if err := r.checkAccess(e, info.TypeID, phase.AccessWrite); err != nil {
		return err
	}

	if err := col.table.EnsureCapacity(int(e.Index)); err != nil {
		return fmt.Errorf("ensure capacity for %T: %w", v, ErrOutOfAddressSpace)
	}

	col.table.SetPresent(int(e.Index), true)

	buf, err := col.table.GetRef(int(e.Index))
	if err != nil {
		return fmt.Errorf("get ref after set present: %w", err)
	}

	writeValue(buf, v)

	if err := col.table.Touch(int(e.Index), uint64(r.globalVersion)); err != nil {
		return fmt.Errorf("touch chunk: %w", err)
	}

	return r.stampMaskAndVersion(e, info.TypeID)
}

// AddManagedComponent adds a managed component to e, serializing its
// payload via [Config.Codec].
func AddManagedComponent[T any](r *Repo, e Entity, v T) error {
	col, info, err := lookupManagedColumn[T](r)
	if err != nil {
		return err
	}

	if !r.index.IsAlive(e) {
		return fmt.Errorf("entity %+v: %w", e, entityindex.ErrDeadEntity)
	}

	if err := r.checkAccess(e, info.TypeID, phase.AccessWrite); err != nil {
		return err
	}

	payload, err := r.codec.Serialize(v)
	if err != nil {
		return fmt.Errorf("serialize %T: %w", v, err)
	}

	if err := col.table.EnsureCapacity(int(e.Index)); err != nil {
		return fmt.Errorf("ensure capacity for %T: %w", v, ErrOutOfAddressSpace)
	}

	col.table.SetPresent(int(e.Index), true)
	col.managed[e.Index] = payload

	if err := col.table.Touch(int(e.Index), uint64(r.globalVersion)); err != nil {
		return fmt.Errorf("touch chunk: %w", err)
	}

	return r.stampMaskAndVersion(e, info.TypeID)
}

// RemoveComponent clears T's presence and component_mask bit for e.
func RemoveComponent[T any](r *Repo, e Entity) error {
	col, info, err := lookupAnyColumn[T](r)
	if err != nil {
		return err
	}

	if !r.index.IsAlive(e) {
		return fmt.Errorf("entity %+v: %w", e, entityindex.ErrDeadEntity)
	}

	if err := r.checkAccess(e, info.TypeID, phase.AccessWrite); err != nil {
		return err
	}

	col.table.SetPresent(int(e.Index), false)
	delete(col.managed, e.Index)
	r.parts.ClearComponent(e.Index, info.TypeID)

	h, err := r.index.GetHeader(e.Index)
	if err != nil {
		return err
	}

	h.ComponentMask.Clear(int(info.TypeID))

	return r.index.PutHeader(e.Index, h)
}

// GetRO returns a copy of e's T component for reading.
func GetRO[T any](r *Repo, e Entity) (T, error) {
	var zero T

	col, info, err := lookupUnmanagedColumn[T](r)
	if err != nil {
		return zero, err
	}

	if err := r.requirePresent(e, info.TypeID); err != nil {
		return zero, err
	}

	if err := r.checkAccess(e, info.TypeID, phase.AccessRead); err != nil {
		return zero, err
	}

	buf, err := col.table.GetRef(int(e.Index))
	if err != nil {
		return zero, fmt.Errorf("get ref: %w", err)
	}

	return readValue[T](buf), nil
}

// GetRW returns a pointer directly into the column's backing bytes for
// e's T component, for in-place mutation.
// The pointer is invalidated by any call that may relocate the
// column's storage (none currently do after commit, but callers must
// not retain it across a Close).
func GetRW[T any](r *Repo, e Entity) (*T, error) {
	col, info, err := lookupUnmanagedColumn[T](r)
	if err != nil {
		return nil, err
	}

	if err := r.requirePresent(e, info.TypeID); err != nil {
		return nil, err
	}

	if err := r.checkAccess(e, info.TypeID, phase.AccessWrite); err != nil {
		return nil, err
	}

	buf, err := col.table.GetRef(int(e.Index))
	if err != nil {
		return nil, fmt.Errorf("get ref: %w", err)
	}

	if err := col.table.Touch(int(e.Index), uint64(r.globalVersion)); err != nil {
		return nil, fmt.Errorf("touch chunk: %w", err)
	}

	if err := r.stampVersion(e); err != nil {
		return nil, err
	}

	return valuePtr[T](buf), nil
}

// Set overwrites e's T component value.
func Set[T any](r *Repo, e Entity, v T) error {
	ptr, err := GetRW[T](r, e)
	if err != nil {
		return err
	}

	*ptr = v

	return nil
}

// GetManaged returns a copy of e's managed T component, deserialized
// via [Config.Codec].
func GetManaged[T any](r *Repo, e Entity) (T, error) {
	var zero T

	col, info, err := lookupManagedColumn[T](r)
	if err != nil {
		return zero, err
	}

	if err := r.requirePresent(e, info.TypeID); err != nil {
		return zero, err
	}

	if err := r.checkAccess(e, info.TypeID, phase.AccessRead); err != nil {
		return zero, err
	}

	payload, ok := col.managed[e.Index]
	if !ok {
		return zero, fmt.Errorf("entity %+v has no managed payload for %T: %w", e, zero, ErrNoSuchComponent)
	}

	var out T
	if err := r.codec.Deserialize(payload, &out); err != nil {
		return zero, fmt.Errorf("deserialize %T: %w", zero, err)
	}

	return out, nil
}

func (r *Repo) requirePresent(e Entity, typeID uint16) error {
	if !r.index.IsAlive(e) {
		return fmt.Errorf("entity %+v: %w", e, entityindex.ErrDeadEntity)
	}

	h, err := r.index.GetHeader(e.Index)
	if err != nil {
		return err
	}

	if !h.ComponentMask.Test(int(typeID)) {
		return fmt.Errorf("entity %+v type %d: %w", e, typeID, ErrNoSuchComponent)
	}

	return nil
}

func (r *Repo) stampMaskAndVersion(e Entity, typeID uint16) error {
	h, err := r.index.GetHeader(e.Index)
	if err != nil {
		return err
	}

	h.ComponentMask.Set(int(typeID))
	h.Version = r.globalVersion

	return r.index.PutHeader(e.Index, h)
}

func (r *Repo) stampVersion(e Entity) error {
	h, err := r.index.GetHeader(e.Index)
	if err != nil {
		return err
	}

	h.Version = r.globalVersion

	return r.index.PutHeader(e.Index, h)
}

func lookupUnmanagedColumn[T any](r *Repo) (*column, registry.TypeInfo, error) {
	col, info, err := lookupAnyColumn[T](r)
	if err != nil {
		return nil, registry.TypeInfo{}, err
	}

	if info.IsManaged {
		return nil, registry.TypeInfo{}, fmt.Errorf("component %v is managed, use the *Managed accessors: %w", info, ErrMisconfiguration)
	}

	return col, info, nil
}

func lookupManagedColumn[T any](r *Repo) (*column, registry.TypeInfo, error) {
	col, info, err := lookupAnyColumn[T](r)
	if err != nil {
		return nil, registry.TypeInfo{}, err
	}

	if !info.IsManaged {
		return nil, registry.TypeInfo{}, fmt.Errorf("component %v is not managed: %w", info, ErrMisconfiguration)
	}

	return col, info, nil
}

func lookupAnyColumn[T any](r *Repo) (*column, registry.TypeInfo, error) {
	info, err := r.reg.Lookup(tokenOf[T]())
	if err != nil {
		return nil, registry.TypeInfo{}, err
	}

	col := r.columnFor(info.TypeID)
	if col == nil {
		return nil, registry.TypeInfo{}, fmt.Errorf("type %v registered but has no column: %w", info, ErrMisconfiguration)
	}

	return col, info, nil
}

func writeValue[T any](buf []byte, v T) {
	*valuePtr[T](buf) = v
}

func readValue[T any](buf []byte) T {
	return *valuePtr[T](buf)
}

func valuePtr[T any](buf []byte) *T {
	return (*T)(unsafe.Pointer(unsafe.SliceData(buf)))
}
