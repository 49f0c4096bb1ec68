package core

import (
	"sort"
	"sync"
)

// ── Registry ──────────────────────────────────────────────────────────────────

// DefaultRegistry is a thread-safe implementation of Registry. Registering a
// format twice replaces the earlier codec, which is how the libvips backend
// takes over from the native codecs.
type DefaultRegistry struct {
	mu       sync.RWMutex
	decoders map[Format]Decoder
	encoders map[Format]Encoder
}

// NewRegistry returns an empty DefaultRegistry.
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{
		decoders: make(map[Format]Decoder),
		encoders: make(map[Format]Encoder),
	}
}

func (r *DefaultRegistry) RegisterDecoder(f Format, d Decoder) {
	r.mu.Lock()
	r.decoders[f] = d
	r.mu.Unlock()
}

func (r *DefaultRegistry) RegisterEncoder(f Format, e Encoder) {
	r.mu.Lock()
	r.encoders[f] = e
	r.mu.Unlock()
}

func (r *DefaultRegistry) DecoderFor(f Format) (Decoder, bool) {
	r.mu.RLock()
	d, ok := r.decoders[f]
	r.mu.RUnlock()
	if ok && !d.CanDecode(f) {
		return nil, false
	}
	return d, ok
}

func (r *DefaultRegistry) EncoderFor(f Format) (Encoder, bool) {
	r.mu.RLock()
	e, ok := r.encoders[f]
	r.mu.RUnlock()
	if ok && !e.CanEncode(f) {
		return nil, false
	}
	return e, ok
}

// SourceFormats lists the formats that currently have a decoder, sorted.
func (r *DefaultRegistry) SourceFormats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.decoders)
}

// TargetFormats lists the formats that currently have an encoder, sorted.
func (r *DefaultRegistry) TargetFormats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.encoders)
}

func sortedKeys[V any](m map[Format]V) []Format {
	out := make([]Format, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
