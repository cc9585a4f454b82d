package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/castbox/internal/diarize"
	"github.com/MrWong99/castbox/pkg/asr"
	"github.com/MrWong99/castbox/pkg/embeddings"
	"github.com/MrWong99/castbox/pkg/voiceembed"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind used by the ingestion pipeline. It is safe for concurrent use.
type Registry struct {
	mu              sync.RWMutex
	asr             map[string]func(ProviderEntry) (asr.Engine, error)
	textEmbeddings  map[string]func(ProviderEntry) (embeddings.Provider, error)
	voiceEmbeddings map[string]func(ProviderEntry) (voiceembed.Extractor, error)
	diarize         map[string]func(ProviderEntry) (diarize.Backend, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		asr:             make(map[string]func(ProviderEntry) (asr.Engine, error)),
		textEmbeddings:  make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
		voiceEmbeddings: make(map[string]func(ProviderEntry) (voiceembed.Extractor, error)),
		diarize:         make(map[string]func(ProviderEntry) (diarize.Backend, error)),
	}
}

// RegisterASR registers an ASR engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterASR(name string, factory func(ProviderEntry) (asr.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = factory
}

// RegisterTextEmbeddings registers a text-embedding provider factory under name.
func (r *Registry) RegisterTextEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.textEmbeddings[name] = factory
}

// RegisterVoiceEmbeddings registers a voice-embedding extractor factory under name.
func (r *Registry) RegisterVoiceEmbeddings(name string, factory func(ProviderEntry) (voiceembed.Extractor, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voiceEmbeddings[name] = factory
}

// RegisterDiarize registers a diarization backend factory under name.
func (r *Registry) RegisterDiarize(name string, factory func(ProviderEntry) (diarize.Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diarize[name] = factory
}

// CreateASR instantiates an ASR engine using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateASR(entry ProviderEntry) (asr.Engine, error) {
	r.mu.RLock()
	factory, ok := r.asr[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asr/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTextEmbeddings instantiates a text-embedding provider using the
// factory registered under entry.Name.
func (r *Registry) CreateTextEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.textEmbeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: text_embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVoiceEmbeddings instantiates a voice-embedding extractor using the
// factory registered under entry.Name.
func (r *Registry) CreateVoiceEmbeddings(entry ProviderEntry) (voiceembed.Extractor, error) {
	r.mu.RLock()
	factory, ok := r.voiceEmbeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: voice_embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateDiarize instantiates a diarization backend using the factory
// registered under entry.Name.
func (r *Registry) CreateDiarize(entry ProviderEntry) (diarize.Backend, error) {
	r.mu.RLock()
	factory, ok := r.diarize[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: diarize/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
