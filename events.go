package ecsflight

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Typed front-end over the byte-oriented event bus. Event types share
// the component registry's type-id space so recorded event sections
// replay against the same ids they were captured under.

// PublishEvent appends v to T's pending stream. T must be registered
// via [RegisterComponent] (a Transient registration is fine — event
// streams are captured from the bus, not from snapshotability).
func PublishEvent[T any](r *Repo, v T) error {
	info, err := r.reg.Lookup(tokenOf[T]())
	if err != nil {
		return err
	}

	buf := make([]byte, info.ElementSize)
	if sz := int(unsafe.Sizeof(v)); sz > 0 {
		copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(&v)), sz))
	}

	r.bus.Publish(info.TypeID, info.ElementSize, buf)

	return nil
}

// PublishManagedEvent appends a codec-serialized payload to T's pending
// stream, length-prefixed so [ConsumeManagedEvents] can split the
// stream back into records.
func PublishManagedEvent[T any](r *Repo, v T) error {
	info, err := r.reg.Lookup(tokenOf[T]())
	if err != nil {
		return err
	}

	payload, err := r.codec.Serialize(v)
	if err != nil {
		return fmt.Errorf("serialize event %T: %w", v, err)
	}

	rec := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(rec[:4], uint32(len(payload)))
	copy(rec[4:], payload)

	r.bus.PublishManaged(info.TypeID, rec)

	return nil
}

// ConsumeEvents returns T's current (read) buffer as typed values, in
// publish order. Call [eventbus.Bus.SwapBuffers] via [Repo.Events] to
// promote pending events first; playback injects directly into the
// read buffer, so replayed events are consumable without a swap.
func ConsumeEvents[T any](r *Repo) ([]T, error) {
	info, err := r.reg.Lookup(tokenOf[T]())
	if err != nil {
		return nil, err
	}

	data := r.bus.Consume(info.TypeID)
	if len(data) == 0 || info.ElementSize == 0 {
		return nil, nil
	}

	n := len(data) / int(info.ElementSize)
	out := make([]T, n)

	for i := 0; i < n; i++ {
		elem := data[i*int(info.ElementSize) : (i+1)*int(info.ElementSize)]
		if sz := int(unsafe.Sizeof(out[i])); sz > 0 {
			copy(unsafe.Slice((*byte)(unsafe.Pointer(&out[i])), sz), elem)
		}
	}

	return out, nil
}

// ConsumeManagedEvents splits T's read buffer back into length-prefixed
// records and deserializes each via [Config.Codec].
func ConsumeManagedEvents[T any](r *Repo) ([]T, error) {
	info, err := r.reg.Lookup(tokenOf[T]())
	if err != nil {
		return nil, err
	}

	data := r.bus.Consume(info.TypeID)

	var out []T

	for pos := 0; pos < len(data); {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("truncated managed event record at byte %d: %w", pos, ErrInvalidArgument)
		}

		payloadLen := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
		pos += 4

		if pos+payloadLen > len(data) {
			return nil, fmt.Errorf("managed event record overruns buffer at byte %d: %w", pos, ErrInvalidArgument)
		}

		var v T
		if err := r.codec.Deserialize(data[pos:pos+payloadLen], &v); err != nil {
			return nil, fmt.Errorf("deserialize event %T: %w", v, err)
		}

		out = append(out, v)
		pos += payloadLen
	}

	return out, nil
}
