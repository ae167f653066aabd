package ecsflight

import "errors"

// Error classification. Callers
// classify with errors.Is; entityindex/registry/phase contribute their
// own sentinels (ErrDeadEntity, ErrNotRegistered, ErrPhaseViolation,
// ErrWrongPhaseTransition) which these wrap rather than duplicate.
var (
	// ErrInvalidArgument indicates a precondition violation: size <= 0,
	// a nil pointer where forbidden, or similar caller error.
	ErrInvalidArgument = errors.New("ecsflight: invalid argument")
	// ErrMisconfiguration indicates a component registration that cannot
	// be resolved safely — e.g. a managed, non-Transient type that looks
	// like a mutable reference type.
	ErrMisconfiguration = errors.New("ecsflight: misconfiguration")
	// ErrNoSuchComponent indicates the entity's component mask does not
	// have the requested type's bit set.
	ErrNoSuchComponent = errors.New("ecsflight: no such component for entity")
	// ErrOutOfAddressSpace indicates an allocator failure during
	// ensure_capacity. Fatal.
	ErrOutOfAddressSpace = errors.New("ecsflight: out of address space")
)
