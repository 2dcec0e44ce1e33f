package core

import "sync"

// DefaultRegistry is a thread-safe Registry: a map from Kind to Codec
// plus a single shared Resizer. Populated once at startup by the engine
// wiring (codec.Default / resize.Imaging or resize.Vips) and treated as
// read-only for the rest of the process lifetime.
type DefaultRegistry struct {
	mu      sync.RWMutex
	codecs  map[Kind]Codec
	resizer Resizer
}

// NewRegistry returns an empty DefaultRegistry with the given Resizer.
func NewRegistry(r Resizer) *DefaultRegistry {
	return &DefaultRegistry{
		codecs:  make(map[Kind]Codec),
		resizer: r,
	}
}

// RegisterCodec associates a Codec with kind. Last registration wins.
func (r *DefaultRegistry) RegisterCodec(kind Kind, c Codec) {
	r.mu.Lock()
	r.codecs[kind] = c
	r.mu.Unlock()
}

func (r *DefaultRegistry) CodecFor(kind Kind) (Codec, bool) {
	r.mu.RLock()
	c, ok := r.codecs[kind]
	r.mu.RUnlock()
	return c, ok
}

func (r *DefaultRegistry) Resizer() Resizer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resizer
}

var _ Registry = (*DefaultRegistry)(nil)
