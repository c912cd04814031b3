// Package registry keeps the per-region subscriber lists.
//
// Regions are keyed by a region identifier (a postal code for the availability
// portal) and keep insertion order, so the poll loop visits them in the order
// they were first registered. A region never exists with an empty list.
package registry

import (
	"errors"
	"iter"
	"strings"
	"sync"
)

var (
	// ErrEmptyRegistry is returned when the poll loop would start without any subscriber.
	ErrEmptyRegistry = errors.New("registry: no subscribers registered")
	// ErrInvalidSubscriber rejects entries without a region key or recipient id.
	ErrInvalidSubscriber = errors.New("registry: region key and subscriber id are required")
)

// Subscriber is a single notification recipient.
type Subscriber struct {
	// ID is the opaque recipient id handed to the messaging transport (Telegram chat id).
	ID string `json:"id"`
	// Name is optional and only used for removal lookups.
	Name string `json:"name,omitempty"`
}

// Region is one region key with its ordered subscribers.
type Region struct {
	Key         string       `json:"key"`
	Subscribers []Subscriber `json:"subscribers"`
}

// Registry maps region keys to subscriber lists.
//
// It is safe for concurrent use. Iteration works on a snapshot, so callers may
// block (network calls) while iterating without holding any lock.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	regions map[string][]Subscriber
}

func New() *Registry {
	return &Registry{regions: map[string][]Subscriber{}}
}

// FromRegions builds a registry from persisted regions, preserving their order.
// Entries without an id are dropped, empty regions are skipped.
func FromRegions(regions []Region) *Registry {
	r := New()
	for _, reg := range regions {
		for _, s := range reg.Subscribers {
			_ = r.Add(reg.Key, s)
		}
	}
	return r
}

// Add appends s to the region's list, creating the region when absent.
// Duplicates are not detected.
func (r *Registry) Add(regionKey string, s Subscriber) error {
	key := strings.TrimSpace(regionKey)
	s.ID = strings.TrimSpace(s.ID)
	s.Name = strings.TrimSpace(s.Name)
	if key == "" || s.ID == "" {
		return ErrInvalidSubscriber
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.regions[key]
	if !ok {
		r.order = append(r.order, key)
	}
	r.regions[key] = append(subs, s)
	return nil
}

// RemoveByName removes every subscriber whose name matches (case-insensitive,
// surrounding whitespace ignored) across all regions, drops regions left empty,
// and returns how many subscribers were removed.
func (r *Registry) RemoveByName(name string) int {
	want := normalizeName(name)
	if want == "" {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	order := r.order[:0]
	for _, key := range r.order {
		subs := r.regions[key]
		kept := subs[:0]
		for _, s := range subs {
			if normalizeName(s.Name) == want {
				removed++
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(r.regions, key)
			continue
		}
		r.regions[key] = kept
		order = append(order, key)
	}
	r.order = order
	return removed
}

// Replace swaps the whole registry for regions, keeping their order.
// Empty regions are skipped.
func (r *Registry) Replace(regions []Region) {
	order := make([]string, 0, len(regions))
	m := make(map[string][]Subscriber, len(regions))
	for _, reg := range regions {
		if len(reg.Subscribers) == 0 {
			continue
		}
		if _, ok := m[reg.Key]; !ok {
			order = append(order, reg.Key)
		}
		m[reg.Key] = append(m[reg.Key], reg.Subscribers...)
	}

	r.mu.Lock()
	r.order = order
	r.regions = m
	r.mu.Unlock()
}

// Regions yields (region key, subscribers) in registry order.
// The yielded slices are copies owned by the caller.
func (r *Registry) Regions() iter.Seq2[string, []Subscriber] {
	snap := r.Snapshot()
	return func(yield func(string, []Subscriber) bool) {
		for _, reg := range snap {
			if !yield(reg.Key, reg.Subscribers) {
				return
			}
		}
	}
}

// Subscribers returns a copy of one region's list (nil if absent).
func (r *Registry) Subscribers(regionKey string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs, ok := r.regions[strings.TrimSpace(regionKey)]
	if !ok {
		return nil
	}
	return append([]Subscriber(nil), subs...)
}

// Has reports whether the region exists.
func (r *Registry) Has(regionKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.regions[strings.TrimSpace(regionKey)]
	return ok
}

// Snapshot returns a deep copy of all regions in order.
func (r *Registry) Snapshot() []Region {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Region, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, Region{Key: key, Subscribers: append([]Subscriber(nil), r.regions[key]...)})
	}
	return out
}

// Len returns the total number of subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, subs := range r.regions {
		n += len(subs)
	}
	return n
}

func (r *Registry) RegionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// RequireSubscribers returns ErrEmptyRegistry when nothing is registered.
func (r *Registry) RequireSubscribers() error {
	if r.Len() == 0 {
		return ErrEmptyRegistry
	}
	return nil
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
