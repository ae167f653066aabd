// Package phase implements the configurable phase FSM and per-phase
// authority permissions: a [Config] is two lookup tables keyed by
// phase name, permitting dynamically registered custom phase names.
package phase

import (
	"errors"
	"fmt"
)

// Access describes what a caller is attempting to do to a component.
type Access int

const (
	// AccessRead is a read of a component's current value.
	AccessRead Access = iota
	// AccessWrite is a mutation of a component's current value.
	AccessWrite
)

// Permission is the access level granted to a phase.
type Permission int

const (
	// NoAccess forbids both reads and writes.
	NoAccess Permission = iota
	// ReadOnly permits reads only.
	ReadOnly
	// ReadWriteOwned permits writes only where authority_mask[type] is
	// true (locally owned), reads unconditionally.
	ReadWriteOwned
	// ReadWriteRemoteOnly permits writes only where authority_mask[type]
	// is false (remote-owned), reads unconditionally.
	ReadWriteRemoteOnly
	// ReadWriteAll permits unconditional reads and writes.
	ReadWriteAll
)

// Well-known default phase names.
const (
	Initialization = "Initialization"
	NetworkReceive = "NetworkReceive"
	Simulation     = "Simulation"
	NetworkSend    = "NetworkSend"
	Presentation   = "Presentation"
)

// Error classification. Callers classify with errors.Is.
var (
	// ErrPhaseViolation indicates an access was denied by the current
	// phase's permission or the component's authority bit.
	ErrPhaseViolation = errors.New("phase: access denied")
	// ErrWrongPhaseTransition indicates an attempted SetPhase is not
	// listed as valid from the current phase.
	ErrWrongPhaseTransition = errors.New("phase: invalid transition")
)

// Config enumerates valid transitions and per-phase permissions.
// Custom phase names may be registered dynamically by adding entries.
type Config struct {
	ValidTransitions map[string]map[string]bool
	Permissions      map[string]Permission
}

// DefaultConfig is the strict linear chain Initialization → NetworkReceive → Simulation → NetworkSend →
// Presentation, no skips.
func DefaultConfig() Config {
	chain := []string{Initialization, NetworkReceive, Simulation, NetworkSend, Presentation}

	transitions := make(map[string]map[string]bool, len(chain))
	for i, from := range chain {
		next := make(map[string]bool)
		if i+1 < len(chain) {
			next[chain[i+1]] = true
		}

		transitions[from] = next
	}

	return Config{
		ValidTransitions: transitions,
		Permissions: map[string]Permission{
			Initialization: ReadWriteAll,
			NetworkReceive: ReadWriteRemoteOnly,
			Simulation:     ReadWriteOwned,
			NetworkSend:    ReadOnly,
			Presentation:   ReadOnly,
		},
	}
}

// RelaxedConfig allows any transition and grants ReadWriteAll
// everywhere. Intended for tests and bootstrap scripts.
func RelaxedConfig() Config {
	chain := []string{Initialization, NetworkReceive, Simulation, NetworkSend, Presentation}

	transitions := make(map[string]map[string]bool, len(chain))
	permissions := make(map[string]Permission, len(chain))

	for _, from := range chain {
		all := make(map[string]bool, len(chain))
		for _, to := range chain {
			all[to] = true
		}

		transitions[from] = all
		permissions[from] = ReadWriteAll
	}

	return Config{ValidTransitions: transitions, Permissions: permissions}
}

// Machine tracks the current phase under a [Config] and enforces
// access.
type Machine struct {
	cfg     Config
	current string
}

// New creates a phase machine starting at start under cfg.
func New(cfg Config, start string) *Machine {
	return &Machine{cfg: cfg, current: start}
}

// Current returns the current phase name.
func (m *Machine) Current() string { return m.current }

// SetPhase transitions to next if cfg lists it as valid from the
// current phase; otherwise returns [ErrWrongPhaseTransition].
func (m *Machine) SetPhase(next string) error {
	allowed := m.cfg.ValidTransitions[m.current]
	if !allowed[next] {
		return fmt.Errorf("%s -> %s: %w", m.current, next, ErrWrongPhaseTransition)
	}

	m.current = next

	return nil
}

// Check enforces access against the current phase's permission and,
// for writes, the component's authority bit. Returns
// [ErrPhaseViolation] on denial.
func (m *Machine) Check(access Access, authorityMaskBitSet bool) error {
	perm := m.cfg.Permissions[m.current]

	switch access {
	case AccessRead:
		if perm == NoAccess {
			return fmt.Errorf("phase %s forbids reads: %w", m.current, ErrPhaseViolation)
		}

		return nil
	case AccessWrite:
		switch perm {
		case ReadWriteAll:
			return nil
		case ReadWriteOwned:
			if authorityMaskBitSet {
				return nil
			}
		case ReadWriteRemoteOnly:
			if !authorityMaskBitSet {
				return nil
			}
		}

		return fmt.Errorf("phase %s forbids write (authority=%v): %w", m.current, authorityMaskBitSet, ErrPhaseViolation)
	default:
		return fmt.Errorf("unknown access kind %d: %w", access, ErrPhaseViolation)
	}
}
