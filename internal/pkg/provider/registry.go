package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
)

type entry struct {
	adapter Adapter
	err     error
}

// Registry resolves provider names to adapters. Providers whose credentials
// are missing stay registered with their configuration error, so the failure
// surfaces at request time with the missing variable names.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// FromConfig registers every known marketplace.
func FromConfig(cfg env.Config) *Registry {
	r := NewRegistry()
	for _, name := range env.KnownProviders {
		a, err := build(cfg, name)
		r.set(name, entry{adapter: a, err: err})
	}
	return r
}

func build(cfg env.Config, name string) (Adapter, error) {
	var (
		a   Adapter
		err error
	)
	switch name {
	case env.ProviderShopify:
		var s *Shopify
		if s, err = NewShopify(cfg); err == nil {
			a = s
		}
	case env.ProviderSquare:
		var s *Square
		if s, err = NewSquare(cfg); err == nil {
			a = s
		}
	case env.ProviderEtsy:
		var e *Etsy
		if e, err = NewEtsy(cfg); err == nil {
			a = e
		}
	case env.ProviderFlipkart:
		var f *Flipkart
		if f, err = NewFlipkart(cfg); err == nil {
			a = f
		}
	case env.ProviderSnapdeal:
		var s *Snapdeal
		if s, err = NewSnapdeal(cfg); err == nil {
			a = s
		}
	case env.ProviderMeesho:
		var m *Meesho
		if m, err = NewMeesho(cfg); err == nil {
			a = m
		}
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return a, err
}

func (r *Registry) set(name string, e entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = e
}

// Register adds or replaces an adapter under its own name.
func (r *Registry) Register(a Adapter) {
	r.set(a.Name(), entry{adapter: a})
}

// Get returns ErrUnknownProvider for names that were never registered and a
// *ConfigMissingError for known but unconfigured providers.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.adapter, nil
}

// Refresher returns the adapter's refresh grant, if it has one.
func (r *Registry) Refresher(name string) (Refresher, bool, error) {
	a, err := r.Get(name)
	if err != nil {
		return nil, false, err
	}
	rf, ok := a.(Refresher)
	return rf, ok, nil
}

// Names lists every registered provider, configured or not.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Known reports whether name is registered at all.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}
