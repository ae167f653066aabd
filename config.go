package ecsflight

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// FileConfig is the on-disk shape of [Config]'s scalar knobs,
// loadable from a JSONC file via `github.com/tailscale/hujson`.
// PhaseConfig and
// Codec are Go-level collaborators, not serializable knobs, so callers
// compose them onto the result of [LoadFileConfig] directly.
type FileConfig struct {
	ChunkSizeBytes          int  `json:"chunk_size_bytes,omitempty"`          //nolint:tagliatelle // snake_case for config file
	InitialReservationBytes int  `json:"initial_reservation_bytes,omitempty"` //nolint:tagliatelle
	ParanoidMode            bool `json:"paranoid_mode,omitempty"`             //nolint:tagliatelle
	RecorderQueueDepth      int  `json:"recorder_queue_depth,omitempty"`      //nolint:tagliatelle
}

// LoadFileConfig reads and JSONC-decodes a config file at path,
// standardizing it to plain JSON via hujson before unmarshaling
// (comments and trailing commas allowed).
func LoadFileConfig(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read config %q: %w", path, err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return FileConfig{}, fmt.Errorf("parse config %q: %w", path, err)
	}

	var fc FileConfig
	if err := json.Unmarshal(std, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("decode config %q: %w", path, err)
	}

	return fc, nil
}

// Apply overlays fc's non-zero fields onto base, returning the merged
// [Config]. Zero/absent JSONC fields leave base's value untouched.
// RecorderQueueDepth isn't part of [Config] (it configures
// internal/recorder.AsyncRecorder, not the repository); read it via
// [FileConfig.QueueDepthOr] when constructing the recorder.
func (fc FileConfig) Apply(base Config) Config {
	if fc.ChunkSizeBytes > 0 {
		base.ChunkSizeBytes = fc.ChunkSizeBytes
	}

	if fc.InitialReservationBytes > 0 {
		base.InitialReservationBytes = fc.InitialReservationBytes
	}

	base.ParanoidMode = base.ParanoidMode || fc.ParanoidMode

	return base
}

// QueueDepthOr returns fc's configured recorder queue depth, or
// fallback if unset.
func (fc FileConfig) QueueDepthOr(fallback int) int {
	if fc.RecorderQueueDepth > 0 {
		return fc.RecorderQueueDepth
	}

	return fallback
}
