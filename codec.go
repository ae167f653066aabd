package ecsflight

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Codec serializes managed component payloads. The core treats it
// opaquely — any compact self-describing
// codec suffices. [GobCodec] is the pluggable default; callers with a
// domain-specific wire format (protobuf, msgpack, ...) can supply their
// own via [Config.Codec].
type Codec interface {
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte, out any) error
}

// GobCodec is the default [Codec], backed by encoding/gob. Managed
// component payloads are opaque to the engine by design,
// so gob's self-describing wire format — not a hand-rolled one — is
// the correct default: it is swapped out entirely, not extended, the
// moment a caller needs a different wire format.
type GobCodec struct{}

// Serialize gob-encodes v.
func (GobCodec) Serialize(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}

	return buf.Bytes(), nil
}

// Deserialize gob-decodes data into out, which must be a pointer.
func (GobCodec) Deserialize(data []byte, out any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(out); err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}

	return nil
}
