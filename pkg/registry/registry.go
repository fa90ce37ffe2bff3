// Package registry provides the stream handler registry.
package registry

import (
	"sync"

	"quickwatch-go/pkg/interfaces"
	"quickwatch-go/pkg/types"
)

// StreamHandlerRegistry manages stream handlers.
type StreamHandlerRegistry struct {
	mu       sync.RWMutex
	handlers []interfaces.StreamHandler
	fallback interfaces.StreamHandler
}

// NewStreamHandlerRegistry creates a new stream handler registry.
func NewStreamHandlerRegistry() *StreamHandlerRegistry {
	return &StreamHandlerRegistry{
		handlers: make([]interfaces.StreamHandler, 0),
	}
}

// Register adds a stream handler to the registry. Handlers are consulted in
// registration order.
func (r *StreamHandlerRegistry) Register(handler interfaces.StreamHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handler)
}

// SetFallback sets the fallback handler used when no handler matches.
func (r *StreamHandlerRegistry) SetFallback(handler interfaces.StreamHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = handler
}

// Get returns the appropriate handler for the given URL.
func (r *StreamHandlerRegistry) Get(url string) interfaces.StreamHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, h := range r.handlers {
		if h.CanHandle(url) {
			return h
		}
	}
	return r.fallback
}

// GetByType returns the handler for a specific stream type.
func (r *StreamHandlerRegistry) GetByType(t types.StreamType) interfaces.StreamHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, h := range r.handlers {
		if h.Type() == t {
			return h
		}
	}
	if r.fallback != nil && r.fallback.Type() == t {
		return r.fallback
	}
	return nil
}

// All returns all registered handlers.
func (r *StreamHandlerRegistry) All() []interfaces.StreamHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]interfaces.StreamHandler, len(r.handlers))
	copy(result, r.handlers)
	return result
}

var _ interfaces.Registry[interfaces.StreamHandler] = (*StreamHandlerRegistry)(nil)
