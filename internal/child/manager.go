package child

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AlexanderBrevig/literate-lsp/internal/config"
)

// Manager holds the one Child per language that has been started so far,
// generalizing loom's LSPClient.servers map (language -> server instance)
// with GetOrStart's double-checked locking preserved.
type Manager struct {
	mu       sync.RWMutex
	children map[string]*Child
	resolver *config.Resolver
	log      *slog.Logger
}

// NewManager creates an empty Manager backed by resolver for language ->
// command lookups.
func NewManager(resolver *config.Resolver, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		children: make(map[string]*Child),
		resolver: resolver,
		log:      log,
	}
}

// GetOrStart returns the running Child for language, starting one if none
// exists yet. Returns config.ErrNoServerConfigured if the language has no
// configured command (spec.md §7 NoServerConfigured: the router treats
// this as "silently don't forward").
//
// GetOrStart does not perform the initialize/initialized handshake spec.md
// §4.5 describes before returning the Child (see DESIGN.md's Open
// Question entry on the Child Manager's handshake); the Child starts in
// Spawning and is handed real traffic immediately. Nothing moves a freshly
// started Child to Initializing or Ready; only a respawn after a crash
// marks it Ready (see Child.supervise).
func (m *Manager) GetOrStart(language string) (*Child, error) {
	m.mu.RLock()
	if c, ok := m.children[language]; ok {
		m.mu.RUnlock()
		return c, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.children[language]; ok {
		return c, nil
	}

	entry, err := m.resolver.Resolve(language)
	if err != nil {
		return nil, err
	}

	c := New(language, entry, m.log)
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("starting %s server: %w", language, err)
	}

	m.children[language] = c
	return c, nil
}

// Get returns the Child for language if one has already been started.
func (m *Manager) Get(language string) (*Child, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.children[language]
	return c, ok
}

// All returns every Child the Manager has started, used for broadcast
// operations (spec.md §4.6 workspace/symbol).
func (m *Manager) All() []*Child {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Child, 0, len(m.children))
	for _, c := range m.children {
		out = append(out, c)
	}
	return out
}

// ShutdownAll gracefully shuts down every started Child.
func (m *Manager) ShutdownAll(shutdownPayload, exitPayload func(language string) []byte) {
	m.mu.Lock()
	children := make([]*Child, 0, len(m.children))
	for _, c := range m.children {
		children = append(children, c)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range children {
		wg.Add(1)
		go func(c *Child) {
			defer wg.Done()
			c.Shutdown(context.Background(), shutdownPayload(c.Language), exitPayload(c.Language))
		}(c)
	}
	wg.Wait()
}
