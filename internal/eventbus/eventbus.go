// Package eventbus implements double-buffered event streams: a map
// from type id to [Stream], each holding a write buffer (pending) and
// a read buffer (current). SwapBuffers is the bus's single total
// ordering point.
package eventbus

import "sync"

// Stream holds one event type's pending and current byte buffers. All
// payloads are stored as flat byte slices; callers reinterpret them as
// fixed-size element records.
type Stream struct {
	ElemSize    uint32
	writeBuffer []byte
	readBuffer  []byte
}

// Count returns the number of elements currently in the read buffer.
func (s *Stream) Count() int {
	if s.ElemSize == 0 {
		return 0
	}

	return len(s.readBuffer) / int(s.ElemSize)
}

// InspectReadBuffer returns the current read buffer bytes. The
// returned slice must be treated as read-only by the caller.
func (s *Stream) InspectReadBuffer() []byte { return s.readBuffer }

// InspectWriteBuffer returns the pending write buffer bytes. The
// returned slice must be treated as read-only by the caller.
func (s *Stream) InspectWriteBuffer() []byte { return s.writeBuffer }

// Inspector is a stable view over one stream, valid across swaps and
// injections.
type Inspector struct {
	EventType uint16
	stream    *Stream
}

// Count returns the live element count of the read buffer.
func (v Inspector) Count() int { return v.stream.Count() }

// InspectReadBuffer delegates to the underlying stream.
func (v Inspector) InspectReadBuffer() []byte { return v.stream.InspectReadBuffer() }

// InspectWriteBuffer delegates to the underlying stream.
func (v Inspector) InspectWriteBuffer() []byte { return v.stream.InspectWriteBuffer() }

// Bus owns every stream, keyed by component/event type id.
type Bus struct {
	mu      sync.Mutex
	streams map[uint16]*Stream
	order   []uint16 // stable iteration order for debug inspectors
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{streams: make(map[uint16]*Stream)}
}

func (b *Bus) getOrCreate(typeID uint16, elemSize uint32) *Stream {
	s, ok := b.streams[typeID]
	if !ok {
		s = &Stream{ElemSize: elemSize}
		b.streams[typeID] = s
		b.order = append(b.order, typeID)
	}

	return s
}

// Publish appends v's bytes to typeID's write buffer, auto-creating the
// stream on first publish.
func (b *Bus) Publish(typeID uint16, elemSize uint32, v []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.getOrCreate(typeID, elemSize)
	s.writeBuffer = append(s.writeBuffer, v...)
}

// PublishManaged is Publish's analogue for managed components, whose
// payload is opaque external-codec bytes rather than a fixed-size
// record.
func (b *Bus) PublishManaged(typeID uint16, payload []byte) {
	b.Publish(typeID, 1, payload)
}

// SwapBuffers atomically makes every stream's write buffer the new
// read buffer and clears the previous read buffer, preserving stream
// identity so outstanding [Inspector] views keep working.
func (b *Bus) SwapBuffers() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.streams {
		s.readBuffer = s.writeBuffer
		s.writeBuffer = nil
	}
}

// Consume returns a copy of typeID's read buffer bytes. Returns nil if
// the stream does not exist or its read buffer is empty.
func (b *Bus) Consume(typeID uint16) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.streams[typeID]
	if !ok || len(s.readBuffer) == 0 {
		return nil
	}

	out := make([]byte, len(s.readBuffer))
	copy(out, s.readBuffer)

	return out
}

// ClearCurrentBuffers empties every stream's read buffer.
func (b *Bus) ClearCurrentBuffers() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.streams {
		s.readBuffer = nil
	}
}

// InjectIntoCurrent appends bytes to typeID's read buffer, creating
// the stream (with elemSize 1) if absent. Used by playback.
func (b *Bus) InjectIntoCurrent(typeID uint16, payload []byte) {
	b.InjectIntoCurrentBySize(typeID, 1, payload)
}

// InjectIntoCurrentBySize is InjectIntoCurrent with an explicit element
// size for the stream if it must be created.
func (b *Bus) InjectIntoCurrentBySize(typeID uint16, elemSize uint32, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.getOrCreate(typeID, elemSize)
	s.readBuffer = append(s.readBuffer, payload...)
}

// GetDebugInspectors returns a stable-ordered view of every stream.
func (b *Bus) GetDebugInspectors() []Inspector {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Inspector, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, Inspector{EventType: id, stream: b.streams[id]})
	}

	return out
}

// PendingStream is a recorder-facing view over one stream's write
// buffer, consumed by the capture path's event section.
type PendingStream struct {
	EventType uint16
	ElemSize  uint32
	Bytes     []byte
}

// GetAllPendingStreams returns every stream's pending write-buffer
// bytes, in stable type-id order, for the recorder's event section.
func (b *Bus) GetAllPendingStreams() []PendingStream {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]PendingStream, 0, len(b.order))
	for _, id := range b.order {
		s := b.streams[id]
		out = append(out, PendingStream{EventType: id, ElemSize: s.ElemSize, Bytes: s.writeBuffer})
	}

	return out
}

// Clear resets the bus to empty. Used for test isolation alongside the
// component registry's own Clear.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.streams = make(map[uint16]*Stream)
	b.order = nil
}
