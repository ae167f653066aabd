package ecsflight

import (
	"fmt"
	"sort"

	"github.com/flightcore/ecsflight/internal/chunktable"
)

// The accessors in this file exist solely for internal/recorder: the
// flight recorder must reach every column's raw chunk table and
// managed-payload map to capture and restore frames, without every
// caller of the repository getting that access too.

// ComponentTable returns the chunk table backing typeID's column.
func (r *Repo) ComponentTable(typeID uint16) (*chunktable.Table, bool) {
	col, ok := r.columns[typeID]
	if !ok {
		return nil, false
	}

	return col.table, true
}

// ManagedPayloads returns the entity-index-to-payload map backing a
// managed column, or (nil, false) if typeID is unmanaged/unregistered.
func (r *Repo) ManagedPayloads(typeID uint16) (map[uint32][]byte, bool) {
	col, ok := r.columns[typeID]
	if !ok || col.managed == nil {
		return nil, false
	}

	return col.managed, true
}

// RestoreManagedPayload overwrites a managed component's stored bytes
// during playback, bypassing the codec (the frame already carries
// encoded bytes) and phase/authority checks (playback is not a
// gameplay write).
func (r *Repo) RestoreManagedPayload(typeID uint16, entityIndex uint32, payload []byte) error {
	col, ok := r.columns[typeID]
	if !ok || col.managed == nil {
		return fmt.Errorf("type %d: %w", typeID, ErrMisconfiguration)
	}

	col.managed[entityIndex] = payload

	return nil
}

// ComponentTypeIDs returns every registered type id with a backing
// column, in ascending order, so the recorder can walk columns without
// reaching into the registry's own bookkeeping.
func (r *Repo) ComponentTypeIDs() []uint16 {
	ids := make([]uint16, 0, len(r.columns))
	for id := range r.columns {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// ChunkSizeBytes returns the configured chunk granularity, for the
// recorder's frame section decoders which must size raw chunk buffers
// without importing the configuration struct.
func (r *Repo) ChunkSizeBytes() int { return r.cfg.ChunkSizeBytes }

// ParanoidMode reports whether strict precondition assertions are
// enabled in the repository's configuration.
func (r *Repo) ParanoidMode() bool { return r.cfg.ParanoidMode }

// SetGlobalVersion overwrites the global version counter directly,
// for playback's restore of a frame's tick. Bypasses the
// monotonic-increment contract [Repo.Tick] otherwise enforces.
func (r *Repo) SetGlobalVersion(v uint32) {
	r.globalVersion = v
}
