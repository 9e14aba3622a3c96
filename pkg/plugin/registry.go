package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rugalib/ruga-filepond/pkg/upload"
)

// Registry maps plugin aliases to their hooks.
//
// The alias is the first path segment of a protocol request. Requests to the
// root path are served by the default plugin.
//
// Example usage:
//
//	reg := NewRegistry("noop")
//	reg.Register("noop", NoOp{})
//	reg.Register("library", lib)
//
//	hooks, _ := reg.Lookup(req.Segment(0))
type Registry struct {
	mu           sync.RWMutex
	plugins      map[string]Hooks
	defaultAlias string
}

// NewRegistry creates an empty registry whose root path is served by
// defaultAlias.
func NewRegistry(defaultAlias string) *Registry {
	return &Registry{
		plugins:      make(map[string]Hooks),
		defaultAlias: defaultAlias,
	}
}

// Register adds a plugin under alias.
// Returns an error if the alias is empty or already taken.
func (r *Registry) Register(alias string, hooks Hooks) error {
	if hooks == nil {
		return fmt.Errorf("cannot register nil plugin")
	}
	if alias == "" {
		return fmt.Errorf("cannot register plugin with empty alias")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[alias]; exists {
		return fmt.Errorf("plugin %q already registered", alias)
	}

	r.plugins[alias] = hooks
	return nil
}

// Lookup returns the plugin for alias. An empty alias selects the default
// plugin. An unknown alias is a 404 protocol error.
func (r *Registry) Lookup(alias string) (Hooks, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if alias == "" {
		alias = r.defaultAlias
	}

	hooks, ok := r.plugins[alias]
	if !ok {
		return nil, upload.NotFound("no plugin registered for %q", alias)
	}
	return hooks, nil
}

// Aliases returns the registered aliases in sorted order.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	aliases := make([]string, 0, len(r.plugins))
	for alias := range r.plugins {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// DefaultAlias returns the alias that serves the root path.
func (r *Registry) DefaultAlias() string {
	return r.defaultAlias
}
