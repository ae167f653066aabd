package recorder

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/flightcore/ecsflight/internal/chunktable"
)

// Section tags. Every section is TLV-encoded: a one-byte tag, a
// little-endian uint32 body length, then the body — so sections may
// appear in any order and an unrecognized
// tag can be skipped.
const (
	sectionEntityHeader    byte = 1
	sectionComponentChunks byte = 2
	sectionManaged         byte = 3
	sectionDestructionLog  byte = 4
	sectionEvents          byte = 5
)

func writeSection(buf *bytes.Buffer, tag byte, body []byte) {
	buf.WriteByte(tag)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	buf.Write(lenBuf[:])
	buf.Write(body)
}

// sectionReader walks tag/length/body triples out of a decoded
// payload.
type sectionReader struct {
	data []byte
	pos  int
}

func newSectionReader(payload []byte) *sectionReader {
	return &sectionReader{data: payload}
}

// next returns the next section's tag and body, or ok=false at end of
// payload.
func (r *sectionReader) next() (tag byte, body []byte, ok bool, err error) {
	if r.pos >= len(r.data) {
		return 0, nil, false, nil
	}

	if r.pos+5 > len(r.data) {
		return 0, nil, false, fmt.Errorf("truncated section header: %w", ErrCorruptFrame)
	}

	tag = r.data[r.pos]
	bodyLen := binary.LittleEndian.Uint32(r.data[r.pos+1 : r.pos+5])
	start := r.pos + 5
	end := start + int(bodyLen)

	if end > len(r.data) {
		return 0, nil, false, fmt.Errorf("truncated section body: %w", ErrCorruptFrame)
	}

	r.pos = end

	return tag, r.data[start:end], true, nil
}

// headerChunkEntry is one entry in the entity-header section.
type headerChunkEntry struct {
	ChunkIdx int
	Raw      []byte
}

func encodeHeaderChunkSection(tbl *chunktable.Table, chunkIdxs []int) ([]byte, error) {
	var buf bytes.Buffer

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(chunkIdxs)))
	buf.Write(countBuf[:])

	raw := make([]byte, tbl.ChunkBytes())

	for _, idx := range chunkIdxs {
		n, err := tbl.CopyChunkToBuffer(idx, raw)
		if err != nil {
			return nil, fmt.Errorf("copy header chunk %d: %w", idx, err)
		}

		var idxBuf [4]byte
		binary.LittleEndian.PutUint32(idxBuf[:], uint32(idx))
		buf.Write(idxBuf[:])
		buf.Write(raw[:n])
	}

	return buf.Bytes(), nil
}

func decodeHeaderChunkSection(body []byte, chunkBytes int) ([]headerChunkEntry, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("short entity header section: %w", ErrCorruptFrame)
	}

	count := binary.LittleEndian.Uint32(body[0:4])
	pos := 4

	out := make([]headerChunkEntry, 0, count)

	for i := uint32(0); i < count; i++ {
		if pos+4+chunkBytes > len(body) {
			return nil, fmt.Errorf("truncated header chunk entry: %w", ErrCorruptFrame)
		}

		chunkIdx := int(binary.LittleEndian.Uint32(body[pos : pos+4]))
		raw := body[pos+4 : pos+4+chunkBytes]
		pos += 4 + chunkBytes

		out = append(out, headerChunkEntry{ChunkIdx: chunkIdx, Raw: raw})
	}

	return out, nil
}

// componentChunkEntry is one entry in the component-chunk section.
type componentChunkEntry struct {
	TypeID   uint16
	ChunkIdx int
	Raw      []byte
}

func encodeComponentChunkSection(entries []componentChunkEntry) []byte {
	var buf bytes.Buffer

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(entries)))
	buf.Write(countBuf[:])

	for _, e := range entries {
		var head [6]byte
		binary.LittleEndian.PutUint16(head[0:2], e.TypeID)
		binary.LittleEndian.PutUint32(head[2:6], uint32(e.ChunkIdx))
		buf.Write(head[:])
		buf.Write(e.Raw)
	}

	return buf.Bytes()
}

func decodeComponentChunkSection(body []byte, chunkBytes int) ([]componentChunkEntry, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("short component chunk section: %w", ErrCorruptFrame)
	}

	count := binary.LittleEndian.Uint32(body[0:4])
	pos := 4

	out := make([]componentChunkEntry, 0, count)

	for i := uint32(0); i < count; i++ {
		if pos+6+chunkBytes > len(body) {
			return nil, fmt.Errorf("truncated component chunk entry: %w", ErrCorruptFrame)
		}

		typeID := binary.LittleEndian.Uint16(body[pos : pos+2])
		chunkIdx := int(binary.LittleEndian.Uint32(body[pos+2 : pos+6]))
		raw := body[pos+6 : pos+6+chunkBytes]
		pos += 6 + chunkBytes

		out = append(out, componentChunkEntry{TypeID: typeID, ChunkIdx: chunkIdx, Raw: raw})
	}

	return out, nil
}

// managedRecord is one managed-component instance in the managed
// section.
type managedRecord struct {
	TypeID      uint16
	EntityIndex uint32
	Payload     []byte
}

func encodeManagedSection(byType map[uint16]map[uint32][]byte) []byte {
	var buf bytes.Buffer

	var typeCountBuf [4]byte
	binary.LittleEndian.PutUint32(typeCountBuf[:], uint32(len(byType)))
	buf.Write(typeCountBuf[:])

	for typeID, records := range byType {
		var typeHead [2]byte
		binary.LittleEndian.PutUint16(typeHead[:], typeID)
		buf.Write(typeHead[:])

		var countBuf [4]byte
		binary.LittleEndian.PutUint32(countBuf[:], uint32(len(records)))
		buf.Write(countBuf[:])

		for entityIdx, payload := range records {
			var head [8]byte
			binary.LittleEndian.PutUint32(head[0:4], entityIdx)
			binary.LittleEndian.PutUint32(head[4:8], uint32(len(payload)))
			buf.Write(head[:])
			buf.Write(payload)
		}
	}

	return buf.Bytes()
}

func decodeManagedSection(body []byte) ([]managedRecord, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("short managed section: %w", ErrCorruptFrame)
	}

	typeCount := binary.LittleEndian.Uint32(body[0:4])
	pos := 4

	var out []managedRecord

	for t := uint32(0); t < typeCount; t++ {
		if pos+6 > len(body) {
			return nil, fmt.Errorf("truncated managed type header: %w", ErrCorruptFrame)
		}

		typeID := binary.LittleEndian.Uint16(body[pos : pos+2])
		count := binary.LittleEndian.Uint32(body[pos+2 : pos+6])
		pos += 6

		for i := uint32(0); i < count; i++ {
			if pos+8 > len(body) {
				return nil, fmt.Errorf("truncated managed record header: %w", ErrCorruptFrame)
			}

			entityIdx := binary.LittleEndian.Uint32(body[pos : pos+4])
			payloadLen := binary.LittleEndian.Uint32(body[pos+4 : pos+8])
			pos += 8

			if pos+int(payloadLen) > len(body) {
				return nil, fmt.Errorf("truncated managed payload: %w", ErrCorruptFrame)
			}

			out = append(out, managedRecord{TypeID: typeID, EntityIndex: entityIdx, Payload: body[pos : pos+int(payloadLen)]})
			pos += int(payloadLen)
		}
	}

	return out, nil
}

// destroyedEntry is one (index, generation) pair in the destruction log
// section.
type destroyedEntry struct {
	Index      uint32
	Generation uint16
}

func encodeDestructionSection(entries []destroyedEntry) []byte {
	var buf bytes.Buffer

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(entries)))
	buf.Write(countBuf[:])

	for _, e := range entries {
		var rec [6]byte
		binary.LittleEndian.PutUint32(rec[0:4], e.Index)
		binary.LittleEndian.PutUint16(rec[4:6], e.Generation)
		buf.Write(rec[:])
	}

	return buf.Bytes()
}

func decodeDestructionSection(body []byte) ([]destroyedEntry, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("short destruction log section: %w", ErrCorruptFrame)
	}

	count := binary.LittleEndian.Uint32(body[0:4])
	pos := 4

	out := make([]destroyedEntry, 0, count)

	for i := uint32(0); i < count; i++ {
		if pos+6 > len(body) {
			return nil, fmt.Errorf("truncated destruction entry: %w", ErrCorruptFrame)
		}

		out = append(out, destroyedEntry{
			Index:      binary.LittleEndian.Uint32(body[pos : pos+4]),
			Generation: binary.LittleEndian.Uint16(body[pos+4 : pos+6]),
		})
		pos += 6
	}

	return out, nil
}

// eventRecord is one event type's pending bytes in the event section.
type eventRecord struct {
	TypeID   uint16
	ElemSize uint32
	Bytes    []byte
}

func encodeEventSection(records []eventRecord) []byte {
	var buf bytes.Buffer

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(records)))
	buf.Write(countBuf[:])

	for _, rec := range records {
		var head [10]byte
		binary.LittleEndian.PutUint16(head[0:2], rec.TypeID)
		binary.LittleEndian.PutUint32(head[2:6], rec.ElemSize)
		binary.LittleEndian.PutUint32(head[6:10], uint32(len(rec.Bytes)))
		buf.Write(head[:])
		buf.Write(rec.Bytes)
	}

	return buf.Bytes()
}

func decodeEventSection(body []byte) ([]eventRecord, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("short event section: %w", ErrCorruptFrame)
	}

	count := binary.LittleEndian.Uint32(body[0:4])
	pos := 4

	out := make([]eventRecord, 0, count)

	for i := uint32(0); i < count; i++ {
		if pos+10 > len(body) {
			return nil, fmt.Errorf("truncated event record header: %w", ErrCorruptFrame)
		}

		typeID := binary.LittleEndian.Uint16(body[pos : pos+2])
		elemSize := binary.LittleEndian.Uint32(body[pos+2 : pos+6])
		byteLen := binary.LittleEndian.Uint32(body[pos+6 : pos+10])
		pos += 10

		if pos+int(byteLen) > len(body) {
			return nil, fmt.Errorf("truncated event bytes: %w", ErrCorruptFrame)
		}

		out = append(out, eventRecord{TypeID: typeID, ElemSize: elemSize, Bytes: body[pos : pos+int(byteLen)]})
		pos += int(byteLen)
	}

	return out, nil
}
