package recorder

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/flightcore/ecsflight"
	"github.com/flightcore/ecsflight/internal/entityindex"
)

// ErrStaleCapture indicates a delta was requested with base_tick at or
// after the repository's current global version — the "delta after
// tick() but before the write" gotcha, caught here rather than
// silently producing an empty delta.
var ErrStaleCapture = errors.New("recorder: stale capture, tick base_tick first")

// CaptureKeyframe builds a self-contained keyframe payload from repo's
// current state: base_tick is
// always 0 and every populated chunk of every snapshotable type is
// emitted; the destruction log section is empty.
func CaptureKeyframe(repo *ecsflight.Repo) ([]byte, error) {
	return buildFrame(repo, FrameKeyframe, 0, false)
}

// CaptureDelta builds a delta payload carrying only chunks touched
// since baseTick, plus the repository's destruction log as it stands
// (everything logged since the log was last cleared; entries are not
// filtered by baseTick). If no tick has advanced past baseTick, it
// panics when paranoid is set and returns [ErrStaleCapture] otherwise;
// writes made before the tick that advanced past baseTick are not
// detected.
func CaptureDelta(repo *ecsflight.Repo, baseTick uint64, paranoid bool) ([]byte, error) {
	if uint64(repo.GlobalVersion()) <= baseTick {
		if paranoid {
			panic(fmt.Sprintf("recorder: capture_frame base_tick=%d not behind current tick=%d", baseTick, repo.GlobalVersion()))
		}

		return nil, ErrStaleCapture
	}

	return buildFrame(repo, FrameDelta, baseTick, true)
}

func buildFrame(repo *ecsflight.Repo, frameType FrameType, baseTick uint64, includeDestroyed bool) ([]byte, error) {
	isKeyframe := frameType == FrameKeyframe
	tick := uint64(repo.GlobalVersion())
	idx := repo.EntityIndex()

	var payload bytes.Buffer

	headerBody, err := captureHeaderSection(idx, baseTick, isKeyframe)
	if err != nil {
		return nil, fmt.Errorf("capture entity header section: %w", err)
	}

	writeSection(&payload, sectionEntityHeader, headerBody)

	compBody, err := captureComponentSection(repo, baseTick, isKeyframe)
	if err != nil {
		return nil, fmt.Errorf("capture component chunk section: %w", err)
	}

	writeSection(&payload, sectionComponentChunks, compBody)

	writeSection(&payload, sectionManaged, captureManagedSection(repo, idx, baseTick, isKeyframe))

	var destroyed []destroyedEntry

	if includeDestroyed {
		for _, e := range repo.GetDestructionLog() {
			destroyed = append(destroyed, destroyedEntry{Index: e.Index, Generation: e.Generation})
		}
	}

	writeSection(&payload, sectionDestructionLog, encodeDestructionSection(destroyed))

	var eventRecords []eventRecord

	for _, s := range repo.Events().GetAllPendingStreams() {
		if len(s.Bytes) == 0 {
			continue
		}

		eventRecords = append(eventRecords, eventRecord{TypeID: s.EventType, ElemSize: s.ElemSize, Bytes: s.Bytes})
	}

	writeSection(&payload, sectionEvents, encodeEventSection(eventRecords))

	return encodeFrame(Header{Type: frameType, Tick: tick, BaseTick: baseTick}, payload.Bytes()), nil
}

// chunkDirty reports whether any header in [start, start+capacity)
// carries a version beyond baseTick, identifying which header chunks
// belong in a delta's entity header section.
func chunkDirty(idx *entityindex.Index, chunkIdx, capacity int, baseTick uint64) bool {
	base := uint32(chunkIdx * capacity)

	for i := 0; i < capacity; i++ {
		h, err := idx.GetHeader(base + uint32(i))
		if err != nil {
			continue
		}

		if uint64(h.Version) > baseTick {
			return true
		}
	}

	return false
}

func captureHeaderSection(idx *entityindex.Index, baseTick uint64, isKeyframe bool) ([]byte, error) {
	tbl := idx.HeaderTable()

	var chunkIdxs []int

	for i := 0; i < tbl.NumChunks(); i++ {
		if isKeyframe || chunkDirty(idx, i, tbl.Capacity(), baseTick) {
			chunkIdxs = append(chunkIdxs, i)
		}
	}

	return encodeHeaderChunkSection(tbl, chunkIdxs)
}

func captureComponentSection(repo *ecsflight.Repo, baseTick uint64, isKeyframe bool) ([]byte, error) {
	var entries []componentChunkEntry

	for _, typeID := range repo.ComponentTypeIDs() {
		info, err := repo.Registry().ByID(typeID)
		if err != nil || !info.IsSnapshotable {
			continue
		}

		tbl, ok := repo.ComponentTable(typeID)
		if !ok {
			continue
		}

		for chunkIdx := 0; chunkIdx < tbl.NumChunks(); chunkIdx++ {
			meta, err := tbl.ChunkMeta(chunkIdx)
			if err != nil {
				continue
			}

			include := isKeyframe && meta.Population > 0
			if !isKeyframe && meta.Version > baseTick {
				include = true
			}

			if !include {
				continue
			}

			raw := make([]byte, tbl.ChunkBytes())

			n, err := tbl.CopyChunkToBuffer(chunkIdx, raw)
			if err != nil {
				return nil, fmt.Errorf("copy component chunk %d of type %d: %w", chunkIdx, typeID, err)
			}

			entries = append(entries, componentChunkEntry{TypeID: typeID, ChunkIdx: chunkIdx, Raw: raw[:n]})
		}
	}

	return encodeComponentChunkSection(entries), nil
}

// captureManagedSection collects managed-component payloads for every
// managed, snapshotable type. A keyframe is self-contained and includes
// every alive, masked instance unconditionally (mirroring "every
// populated chunk" for ordinary columns); a delta filters by the
// owning entity header's version.
func captureManagedSection(repo *ecsflight.Repo, idx *entityindex.Index, baseTick uint64, isKeyframe bool) []byte {
	byType := make(map[uint16]map[uint32][]byte)

	for _, typeID := range repo.ComponentTypeIDs() {
		info, err := repo.Registry().ByID(typeID)
		if err != nil || !info.IsManaged || !info.IsSnapshotable {
			continue
		}

		payloads, ok := repo.ManagedPayloads(typeID)
		if !ok {
			continue
		}

		for entityIdx, payload := range payloads {
			h, err := idx.GetHeader(entityIdx)
			if err != nil || !h.Active || !h.ComponentMask.Test(int(typeID)) {
				continue
			}

			if !isKeyframe && uint64(h.Version) <= baseTick {
				continue
			}

			if byType[typeID] == nil {
				byType[typeID] = make(map[uint32][]byte)
			}

			byType[typeID][entityIdx] = payload
		}
	}

	return encodeManagedSection(byType)
}
