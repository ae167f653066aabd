package recorder

import (
	"fmt"

	"github.com/flightcore/ecsflight"
	"github.com/flightcore/ecsflight/internal/entityindex"
)

// PlaybackSystem restores a repository from recorded frames. It holds
// no state of its own and carries nothing between frames, so the zero
// value is ready to use.
type PlaybackSystem struct{}

// ApplyFrame reads the next frame from rd and folds it into repo. ok
// is false at EOF or on a corrupt/truncated frame, matching
// [Reader.ReadFrame]'s contract — already-applied partial state from
// a prior call is not rolled back; callers recover by restarting from
// a keyframe.
func (PlaybackSystem) ApplyFrame(repo *ecsflight.Repo, rd *Reader) (ok bool, err error) {
	f, ok, err := rd.ReadFrame(repo.ChunkSizeBytes())
	if err != nil || !ok {
		return false, err
	}

	if f.Header.Type == FrameKeyframe {
		if err := applyKeyframe(repo, f); err != nil {
			return false, fmt.Errorf("apply keyframe: %w", err)
		}
	} else {
		if err := applyDelta(repo, f); err != nil {
			return false, fmt.Errorf("apply delta: %w", err)
		}
	}

	repo.SetGlobalVersion(uint32(f.Header.Tick))
	injectEvents(repo, f.Events)

	return true, nil
}

func applyKeyframe(repo *ecsflight.Repo, f Frame) error {
	idx := repo.EntityIndex()
	idx.Clear()

	headerTbl := idx.HeaderTable()
	for _, entry := range f.HeaderChunks {
		if err := headerTbl.RestoreChunkFromBuffer(entry.ChunkIdx, entry.Raw); err != nil {
			return fmt.Errorf("restore header chunk %d: %w", entry.ChunkIdx, err)
		}
	}

	if err := restoreComponentChunks(repo, f.ComponentChunks); err != nil {
		return err
	}

	idx.RebuildMetadata()

	if err := applyManagedRecords(repo, idx, f.Managed); err != nil {
		return err
	}

	return sanitizeTouchedChunks(repo, idx, f.ComponentChunks)
}

func applyDelta(repo *ecsflight.Repo, f Frame) error {
	idx := repo.EntityIndex()

	for _, e := range f.Destroyed {
		entity := ecsflight.Entity{Index: e.Index, Generation: e.Generation}
		if idx.IsAlive(entity) {
			_ = idx.DestroyEntity(entity)
			repo.PartMeta().ClearEntity(entity.Index)
		} else {
			// Entity already inactive (e.g. applied twice, or the
			// generation already advanced past this record) — force the
			// header to the destroyed shape directly so seek idempotence
			// holds even when destructions replay out of their original
			// order.
			_ = idx.ForceRestoreEntity(e.Index, false, e.Generation, entityindex.Bitmap256{})
		}
	}

	headerTbl := idx.HeaderTable()
	for _, entry := range f.HeaderChunks {
		if err := headerTbl.RestoreChunkFromBuffer(entry.ChunkIdx, entry.Raw); err != nil {
			return fmt.Errorf("restore header chunk %d: %w", entry.ChunkIdx, err)
		}
	}

	if err := restoreComponentChunks(repo, f.ComponentChunks); err != nil {
		return err
	}

	idx.RebuildMetadata()

	if err := applyManagedRecords(repo, idx, f.Managed); err != nil {
		return err
	}

	return sanitizeTouchedChunks(repo, idx, f.ComponentChunks)
}

func restoreComponentChunks(repo *ecsflight.Repo, entries []componentChunkEntry) error {
	for _, entry := range entries {
		tbl, ok := repo.ComponentTable(entry.TypeID)
		if !ok {
			continue // unknown type id: recording predates this process's registration order
		}

		if err := tbl.RestoreChunkFromBuffer(entry.ChunkIdx, entry.Raw); err != nil {
			return fmt.Errorf("restore component chunk %d of type %d: %w", entry.ChunkIdx, entry.TypeID, err)
		}
	}

	return nil
}

// applyManagedRecords restores managed payloads and sets the
// corresponding component_mask bit on the owning entity's header.
// Restoring the payload without the mask bit makes queries silently
// miss the entity, so the bit is set before any query can run.
func applyManagedRecords(repo *ecsflight.Repo, idx *entityindex.Index, records []managedRecord) error {
	for _, rec := range records {
		if err := repo.RestoreManagedPayload(rec.TypeID, rec.EntityIndex, rec.Payload); err != nil {
			return fmt.Errorf("restore managed payload type %d entity %d: %w", rec.TypeID, rec.EntityIndex, err)
		}

		h, err := idx.GetHeader(rec.EntityIndex)
		if err != nil {
			continue // entity no longer present after destruction-log/rebuild; drop the stale record
		}

		h.ComponentMask.Set(int(rec.TypeID))

		if err := idx.PutHeader(rec.EntityIndex, h); err != nil {
			return fmt.Errorf("set managed mask bit type %d entity %d: %w", rec.TypeID, rec.EntityIndex, err)
		}
	}

	return nil
}

// sanitizeTouchedChunks zeroes dead slots in every chunk this frame
// restored and rebuilds each chunk table's own
// presence bitmap from the freshly rebuilt headers, since presence is
// in-memory bookkeeping a raw byte restore cannot recover on its own.
func sanitizeTouchedChunks(repo *ecsflight.Repo, idx *entityindex.Index, entries []componentChunkEntry) error {
	seen := make(map[uint16]map[int]bool)

	for _, entry := range entries {
		if seen[entry.TypeID] == nil {
			seen[entry.TypeID] = make(map[int]bool)
		}

		if seen[entry.TypeID][entry.ChunkIdx] {
			continue
		}

		seen[entry.TypeID][entry.ChunkIdx] = true

		tbl, ok := repo.ComponentTable(entry.TypeID)
		if !ok {
			continue
		}

		cap := tbl.Capacity()
		liveness := make([]bool, cap)
		idx.LivenessRange(uint32(entry.ChunkIdx*cap), cap, liveness)

		if err := tbl.SanitizeChunk(entry.ChunkIdx, liveness); err != nil {
			return fmt.Errorf("sanitize chunk %d of type %d: %w", entry.ChunkIdx, entry.TypeID, err)
		}

		presence := make([]bool, cap)

		base := uint32(entry.ChunkIdx * cap)
		for i := 0; i < cap; i++ {
			h, err := idx.GetHeader(base + uint32(i))
			if err != nil {
				continue
			}

			presence[i] = h.Active && h.ComponentMask.Test(int(entry.TypeID))
		}

		tbl.SetChunkPresence(entry.ChunkIdx, presence)
	}

	return nil
}

func injectEvents(repo *ecsflight.Repo, events []eventRecord) {
	for _, rec := range events {
		repo.Events().InjectIntoCurrentBySize(rec.TypeID, rec.ElemSize, rec.Bytes)
	}
}
