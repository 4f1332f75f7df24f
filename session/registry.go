package session

import (
	"sync"

	"github.com/EasterCompany/dex-voice-responder/interfaces"
)

type registration struct {
	sink interfaces.AudioSink
	info *interfaces.SessionInfo
}

// Registry tracks the live voice session per resource key (guild ID). It is
// the only source of truth for "where does this resource speak right now";
// responses for unregistered resources are skipped upstream.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]registration
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]registration)}
}

// Register binds a sink to a resource key, replacing any previous binding.
func (r *Registry) Register(resourceKey string, sink interfaces.AudioSink, info *interfaces.SessionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[resourceKey] = registration{sink: sink, info: info}
}

// Unregister removes the binding for a resource key. Safe to call for keys
// that were never registered.
func (r *Registry) Unregister(resourceKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, resourceKey)
}

// Lookup returns the sink and session info for a resource key.
func (r *Registry) Lookup(resourceKey string) (interfaces.AudioSink, *interfaces.SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.sessions[resourceKey]
	if !ok {
		return nil, nil, false
	}
	return reg.sink, reg.info, true
}
