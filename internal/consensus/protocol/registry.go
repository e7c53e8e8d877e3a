package protocol

import (
	"sync"

	"github.com/pkg/errors"
)

// Registry maps protocol type strings to engines so the active
// protocol can be selected from configuration.
type Registry struct {
	mu        sync.RWMutex
	protocols map[string]Protocol
}

func NewRegistry() *Registry {
	return &Registry{
		protocols: make(map[string]Protocol),
	}
}

// Register adds a protocol engine under its type string. Registering
// the same type twice is a programming error.
func (r *Registry) Register(protocolType string, p Protocol) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.protocols[protocolType]; ok {
		panic("protocol already registered: " + protocolType)
	}
	r.protocols[protocolType] = p
}

// Get returns the engine registered under the type string.
func (r *Registry) Get(protocolType string) (Protocol, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.protocols[protocolType]
	if !ok {
		return nil, errors.Errorf("unsupported protocol type: %s", protocolType)
	}
	return p, nil
}
