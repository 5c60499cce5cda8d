package backend

import (
	"context"
	"fmt"
	"sync"

	"mercator-hq/gateway/internal/gwerr"
	"mercator-hq/gateway/internal/model"
)

// Manager is a registry of configured backends keyed by provider
// name, resolving each request's provider to the backend that serves
// it.
type Manager struct {
	mu       sync.RWMutex
	backends map[string]Backend
	kinds    map[string]model.BackendKind
}

// NewManager builds an empty registry.
func NewManager() *Manager {
	return &Manager{
		backends: make(map[string]Backend),
		kinds:    make(map[string]model.BackendKind),
	}
}

// Register adds or replaces the backend serving provider.
func (m *Manager) Register(provider string, kind model.BackendKind, b Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backends[provider] = b
	m.kinds[provider] = kind
}

// Get resolves provider to its backend and kind, or
// gwerr.NotFoundError if unconfigured.
func (m *Manager) Get(provider string) (Backend, model.BackendKind, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backends[provider]
	if !ok {
		return nil, "", &gwerr.NotFoundError{Kind: "provider", ID: provider}
	}
	return b, m.kinds[provider], nil
}

// Providers lists every registered provider name.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.backends))
	for name := range m.backends {
		names = append(names, name)
	}
	return names
}

// ShutdownAll shuts down every registered backend, collecting the
// first error encountered (if any) but attempting all of them.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.mu.RLock()
	backends := make(map[string]Backend, len(m.backends))
	for name, b := range m.backends {
		backends[name] = b
	}
	m.mu.RUnlock()

	var firstErr error
	for name, b := range backends {
		if err := b.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutdown %q: %w", name, err)
		}
	}
	return firstErr
}
