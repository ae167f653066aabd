package recorder

import (
	"encoding/binary"
	"hash/crc32"
)

// Frame is one fully decoded frame: the fixed header plus every
// section present in its payload, ready for [PlaybackSystem.ApplyFrame]
// to fold into a repository.
type Frame struct {
	Header          Header
	HeaderChunks    []headerChunkEntry
	ComponentChunks []componentChunkEntry
	Managed         []managedRecord
	Destroyed       []destroyedEntry
	Events          []eventRecord
}

// parsePayload walks payload's TLV sections and decodes each into
// Frame's corresponding field. Sections may appear in any order and
// unrecognized tags are skipped.
func parsePayload(h Header, payload []byte, chunkBytes int) (Frame, error) {
	f := Frame{Header: h}

	r := newSectionReader(payload)

	for {
		tag, body, ok, err := r.next()
		if err != nil {
			return Frame{}, err
		}

		if !ok {
			break
		}

		switch tag {
		case sectionEntityHeader:
			entries, err := decodeHeaderChunkSection(body, chunkBytes)
			if err != nil {
				return Frame{}, err
			}

			f.HeaderChunks = entries
		case sectionComponentChunks:
			entries, err := decodeComponentChunkSection(body, chunkBytes)
			if err != nil {
				return Frame{}, err
			}

			f.ComponentChunks = entries
		case sectionManaged:
			entries, err := decodeManagedSection(body)
			if err != nil {
				return Frame{}, err
			}

			f.Managed = entries
		case sectionDestructionLog:
			entries, err := decodeDestructionSection(body)
			if err != nil {
				return Frame{}, err
			}

			f.Destroyed = entries
		case sectionEvents:
			entries, err := decodeEventSection(body)
			if err != nil {
				return Frame{}, err
			}

			f.Events = entries
		}
	}

	return f, nil
}

// verifyAndSplit validates a complete on-disk frame buffer (header,
// payload, CRC trailer) and returns the decoded header and payload
// slice. ok is false for any structurally invalid
// input — magic mismatch, length overrun, or checksum failure —
// corruption is reported, never panicked.
func verifyAndSplit(raw []byte) (h Header, payload []byte, ok bool) {
	if len(raw) < HeaderSize+crcSize {
		return Header{}, nil, false
	}

	h, err := decodeHeader(raw[:HeaderSize])
	if err != nil {
		return Header{}, nil, false
	}

	want := HeaderSize + int(h.PayloadLen) + crcSize
	if want != len(raw) {
		return Header{}, nil, false
	}

	payload = raw[HeaderSize : HeaderSize+int(h.PayloadLen)]

	gotSum := crc32.ChecksumIEEE(raw[:HeaderSize+int(h.PayloadLen)])
	wantSum := binary.LittleEndian.Uint32(raw[HeaderSize+int(h.PayloadLen):])

	if gotSum != wantSum {
		return Header{}, nil, false
	}

	return h, payload, true
}
