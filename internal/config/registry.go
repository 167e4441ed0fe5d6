package config

import (
	"errors"
	"fmt"
	"sync"

	"fabula/pkg/audio"
	"fabula/pkg/provider/llm"
	"fabula/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// LLMFactory constructs a model backend from its settings.
type LLMFactory func(settings llm.Settings) (llm.Provider, error)

// TTSFactory constructs a speech backend delivering audio into sink. The sink
// is per session, so speech backends are created once per session.
type TTSFactory func(cfg TTSConfig, sink audio.Sink) (tts.Provider, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]LLMFactory
	tts map[string]TTSFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]LLMFactory),
		tts: make(map[string]TTSFactory),
	}
}

// RegisterLLM registers a model backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a speech backend factory under name.
func (r *Registry) RegisterTTS(name string, factory TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateLLM instantiates a model backend using the factory registered under
// name. Returns [ErrProviderNotRegistered] if no factory has been registered
// for that name.
func (r *Registry) CreateLLM(name string, settings llm.Settings) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, name)
	}
	return factory(settings)
}

// CreateTTS instantiates a speech backend using the factory registered under
// cfg.Provider, speaking into sink.
func (r *Registry) CreateTTS(cfg TTSConfig, sink audio.Sink) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg, sink)
}

// OptString extracts a string value from a provider Options map. Returns ""
// if the map is nil, the key is absent, or the value is not a string.
func OptString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
