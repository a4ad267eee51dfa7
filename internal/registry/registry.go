// Package registry implements the AI Service Registry (C5): a directory of
// provider plugins with priority-ordered selection, capability/type
// filtering, and concurrent health probing.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrConflict is returned by Register when id already exists with a
// different descriptor (spec.md §4.5: "idempotent on id collision — later
// registration replaces prior if descriptors match, else fails").
var ErrConflict = errors.New("registry: conflicting descriptor for id")

// ErrNoServiceAvailable is returned by Select when no candidate matches.
var ErrNoServiceAvailable = errors.New("registry: no service available")

// Plugin is the capability set every provider plugin implements (C6).
type Plugin interface {
	Invoke(ctx context.Context, prompt string) (string, error)
	Health(ctx context.Context) bool
}

// Descriptor describes a registered plugin (spec.md §3 ServiceDescriptor).
type Descriptor struct {
	ID           string
	Provider     string
	Model        string
	Capabilities []string
	ServiceTypes []string
	Priority     int
	Available    bool
}

func (d Descriptor) hasServiceType(serviceType string) bool {
	for _, t := range d.ServiceTypes {
		if t == serviceType {
			return true
		}
	}
	return false
}

func (d Descriptor) hasCapability(capability string) bool {
	if capability == "" {
		return true
	}
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

type entry struct {
	descriptor Descriptor
	plugin     Plugin
}

// Registry holds id → (descriptor, plugin) and enforces the selection rules
// of spec.md §4.5. Write operations (register/unregister/health updates)
// take a writer-exclusive lock; reads take a read lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds or idempotently re-registers a plugin under id. A second
// registration of the same id with a different descriptor fails with
// ErrConflict.
func (r *Registry) Register(id string, plugin Plugin, descriptor Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	descriptor.ID = id
	if existing, ok := r.entries[id]; ok {
		if !sameDescriptor(existing.descriptor, descriptor) {
			return ErrConflict
		}
	}
	r.entries[id] = entry{descriptor: descriptor, plugin: plugin}
	return nil
}

func sameDescriptor(a, b Descriptor) bool {
	if a.Provider != b.Provider || a.Model != b.Model || a.Priority != b.Priority {
		return false
	}
	return equalSet(a.Capabilities, b.Capabilities) && equalSet(a.ServiceTypes, b.ServiceTypes)
}

func equalSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		if !seen[v] {
			return false
		}
	}
	return true
}

// Unregister removes id from the registry, if present.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// List returns every descriptor ordered by (priority ascending, id
// lexicographic), per spec.md §4.5.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.descriptor)
	}
	sortDescriptors(out)
	return out
}

func sortDescriptors(ds []Descriptor) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Priority != ds[j].Priority {
			return ds[i].Priority < ds[j].Priority
		}
		return ds[i].ID < ds[j].ID
	})
}

// Candidates returns the plugins registered for serviceType, ordered by
// availability (available first) then (priority ascending, id
// lexicographic) — the same order Select walks when trying fallbacks.
// When any of them carries preferredCapability, only those are returned;
// otherwise every plugin registered for serviceType is returned.
func (r *Registry) Candidates(serviceType, preferredCapability string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches, preferred []Descriptor
	for _, e := range r.entries {
		if !e.descriptor.hasServiceType(serviceType) {
			continue
		}
		matches = append(matches, e.descriptor)
		if e.descriptor.hasCapability(preferredCapability) {
			preferred = append(preferred, e.descriptor)
		}
	}
	if len(preferred) > 0 {
		matches = preferred
	}
	sortDescriptors(matches)

	available := make([]Descriptor, 0, len(matches))
	unavailable := make([]Descriptor, 0, len(matches))
	for _, d := range matches {
		if d.Available {
			available = append(available, d)
		} else {
			unavailable = append(unavailable, d)
		}
	}
	return append(available, unavailable...)
}

// Select returns the plugin for the best candidate matching serviceType and
// preferredCapability. Availability is preferred; if every candidate is
// unavailable, the highest-priority one is still tried (its failure is the
// caller's concern — surfaced as AI_SERVICE_ERROR per spec.md §4.5).
func (r *Registry) Select(serviceType, preferredCapability string) (Plugin, Descriptor, error) {
	candidates := r.Candidates(serviceType, preferredCapability)
	if len(candidates) == 0 {
		return nil, Descriptor{}, ErrNoServiceAvailable
	}
	best := candidates[0]

	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[best.ID]
	if !ok {
		return nil, Descriptor{}, ErrNoServiceAvailable
	}
	return e.plugin, e.descriptor, nil
}

// SelectByID resolves a specific plugin by its registered id, bypassing the
// priority/availability ordering Select applies. Used by callers (e.g. the
// orchestrator's failover loop) that already decided which candidate to try.
func (r *Registry) SelectByID(id string) (Plugin, Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, Descriptor{}, ErrNoServiceAvailable
	}
	return e.plugin, e.descriptor, nil
}

// HealthCheckAll fans out to each plugin's Health with a bounded per-probe
// timeout and returns once every probe has completed or timed out — the
// aggregate call's wall time is bounded by probeTimeout, not the sum of all
// probes (spec.md §4.5, tested property 7).
func (r *Registry) HealthCheckAll(ctx context.Context, probeTimeout time.Duration) map[string]bool {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	plugins := make(map[string]Plugin, len(r.entries))
	for id, e := range r.entries {
		ids = append(ids, id)
		plugins[id] = e.plugin
	}
	r.mu.RUnlock()

	results := make(map[string]bool, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		go func(id string, p Plugin) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			healthy := p.Health(probeCtx)
			mu.Lock()
			results[id] = healthy
			mu.Unlock()
		}(id, plugins[id])
	}
	wg.Wait()

	r.mu.Lock()
	for id, healthy := range results {
		if e, ok := r.entries[id]; ok {
			e.descriptor.Available = healthy
			r.entries[id] = e
		}
	}
	r.mu.Unlock()

	return results
}
