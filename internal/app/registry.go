// Package app holds the pieces shared by the battle flow: the teardown registry
// for subscriptions and timers, and the offline/forfeit policy.
package app

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

type entry struct {
	cancel func()
}

// Registry owns the cancel funcs of everything a flow started. Cancelling the
// flow cancels all of them, so no stale callback outlives it.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Bind registers cancel under name. A previous binding with the same name is
// cancelled first.
func (r *Registry) Bind(name string, cancel func()) {
	r.mu.Lock()
	prev := r.entries[name]
	r.entries[name] = &entry{cancel: cancel}
	r.mu.Unlock()

	if prev != nil && prev.cancel != nil {
		prev.cancel()
		log.Debug().Str("module", "app.registry").Str("name", name).Msg("replaced binding")
	}
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Unbind forgets name without cancelling it.
func (r *Registry) Unbind(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

func (r *Registry) Cancel(name string) bool {
	r.mu.Lock()
	e, ok := r.entries[name]
	delete(r.entries, name)
	r.mu.Unlock()
	if !ok {
		return false
	}
	if e.cancel != nil {
		e.cancel()
	}
	log.Debug().Str("module", "app.registry").Str("name", name).Msg("cancelled")
	return true
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CancelAll cancels every binding and empties the registry.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		if e.cancel != nil {
			e.cancel()
		}
	}
	if len(entries) > 0 {
		log.Info().Str("module", "app.registry").Int("count", len(entries)).Msg("cancelled all")
	}
	return len(entries)
}
