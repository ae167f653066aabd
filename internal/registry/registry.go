// Package registry implements the process-wide component type
// registry: a mapping from a caller-supplied type token to a
// dense, monotonically assigned type id plus the bookkeeping (element
// size, managed/snapshotable flags) the rest of the engine needs.
//
// The recording protocol identifies components by type id alone, so
// every repository in the process must draw ids from the same
// assignment sequence: [Global] is that shared instance, and
// repositories are built over it. [New] exists for unit tests that
// want an isolated registry.
//
// The registry guards with a plain sync.Mutex; concurrent writers are
// undefined and tests serialize via [Registry.Clear].
package registry

import (
	"errors"
	"fmt"
	"sync"
)

// Error classification. Callers classify with errors.Is.
var (
	// ErrNotRegistered indicates the type token is unknown to the registry.
	ErrNotRegistered = errors.New("registry: not registered")
	// ErrMaxTypesExceeded indicates MAX_COMPONENT_TYPES would be exceeded.
	ErrMaxTypesExceeded = errors.New("registry: max component types exceeded")
)

// MaxTypes is the width of the component mask.
const MaxTypes = 256

// TypeInfo describes one registered component type.
type TypeInfo struct {
	TypeID         uint16
	ElementSize    uint32
	IsManaged      bool
	IsSnapshotable bool
}

// Registry maps type tokens (any comparable value — typically a
// reflect.Type or a small string/int constant the caller controls) to
// [TypeInfo]. Ids are dense and assignment-order, and stable for the
// lifetime of the registry.
type Registry struct {
	mu      sync.Mutex
	byToken map[any]TypeInfo
	order   []any // token at index == type id
}

// New creates an empty registry. Production code shares [Global]
// instead; New is for unit tests that need isolation without touching
// the process-wide instance.
func New() *Registry {
	return &Registry{byToken: make(map[any]TypeInfo)}
}

// global is the process-wide instance every repository registers
// against, so type-id assignment order is a property of the process,
// not of any one repository.
var global = New()

// Global returns the process-wide registry. Tests that need a clean id
// space must serialize via [Registry.Clear]; clearing it while a
// repository built over it is still alive is undefined.
func Global() *Registry {
	return global
}

// Register assigns a new type id to token if not already registered,
// idempotently returning the existing [TypeInfo] otherwise.
func (r *Registry) Register(token any, elementSize uint32, managed, snapshotable bool) (TypeInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byToken[token]; ok {
		return existing, nil
	}

	if len(r.order) >= MaxTypes {
		return TypeInfo{}, fmt.Errorf("registering token %v: %w", token, ErrMaxTypesExceeded)
	}

	info := TypeInfo{
		TypeID:         uint16(len(r.order)),
		ElementSize:    elementSize,
		IsManaged:      managed,
		IsSnapshotable: snapshotable,
	}

	r.order = append(r.order, token)
	r.byToken[token] = info

	return info, nil
}

// Lookup returns the [TypeInfo] for token.
func (r *Registry) Lookup(token any) (TypeInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.byToken[token]
	if !ok {
		return TypeInfo{}, fmt.Errorf("token %v: %w", token, ErrNotRegistered)
	}

	return info, nil
}

// ByID returns the [TypeInfo] for a given dense type id.
func (r *Registry) ByID(id uint16) (TypeInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(id) >= len(r.order) {
		return TypeInfo{}, fmt.Errorf("type id %d: %w", id, ErrNotRegistered)
	}

	return r.byToken[r.order[id]], nil
}

// Count returns the number of registered types.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.order)
}

// All returns a snapshot of every registered [TypeInfo], ordered by
// type id. Used by the recorder to iterate snapshotable types.
func (r *Registry) All() []TypeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TypeInfo, len(r.order))
	for i, tok := range r.order {
		out[i] = r.byToken[tok]
	}

	return out
}

// Clear resets the registry to empty. Intended for test isolation
// between otherwise-independent test cases.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byToken = make(map[any]TypeInfo)
	r.order = nil
}
