package ecsflight

import "fmt"

// ensureSingleton ensures the reserved singleton entity exists,
// creating it on first use; it attaches no component. It bypasses
// phase/authority checks — the singleton slot is bootstrap infrastructure, not a
// player-visible write.
func ensureSingleton(r *Repo) (Entity, error) {
	if r.haveSingleton && r.index.IsAlive(r.singleton) {
		return r.singleton, nil
	}

	e, err := r.index.CreateEntity()
	if err != nil {
		return Entity{}, fmt.Errorf("create singleton entity: %w", err)
	}

	r.singleton = e
	r.haveSingleton = true

	return e, nil
}

// GetSingletonUnmanaged returns a pointer to the world-level T
// singleton, creating the reserved entity and the zero-valued
// component on first access.
func GetSingletonUnmanaged[T any](r *Repo) (*T, error) {
	col, info, err := lookupUnmanagedColumn[T](r)
	if err != nil {
		return nil, err
	}

	e, err := ensureSingleton(r)
	if err != nil {
		return nil, err
	}

	if err := col.table.EnsureCapacity(int(e.Index)); err != nil {
		return nil, fmt.Errorf("ensure capacity for singleton %v: %w", info, ErrOutOfAddressSpace)
	}

	if !col.table.IsPresent(int(e.Index)) {
		col.table.SetPresent(int(e.Index), true)

		if err := r.stampMaskAndVersion(e, info.TypeID); err != nil {
			return nil, err
		}
	}

	buf, err := col.table.GetRef(int(e.Index))
	if err != nil {
		return nil, fmt.Errorf("get ref for singleton %v: %w", info, err)
	}

	return valuePtr[T](buf), nil
}

// HydrateEntity forces activation of a specific slot at the given
// generation, for replay and test scaffolds.
func (r *Repo) HydrateEntity(slot uint32, generation uint16) (Entity, error) {
	return r.index.Hydrate(slot, generation)
}
