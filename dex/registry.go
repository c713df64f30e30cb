package dex

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Registry maps venue names and router addresses to venues, and protocols
// to adapters. It is read-only after construction.
type Registry struct {
	venues   map[string]Venue
	byRouter map[common.Address]Venue
	adapters map[string]Adapter
	names    []string
}

func NewRegistry(venues []Venue, adapters ...Adapter) (*Registry, error) {
	r := &Registry{
		venues:   make(map[string]Venue, len(venues)),
		byRouter: make(map[common.Address]Venue, len(venues)),
		adapters: make(map[string]Adapter, len(adapters)),
	}
	for _, a := range adapters {
		r.adapters[a.Protocol()] = a
	}
	for _, v := range venues {
		if v.Name == "" {
			return nil, fmt.Errorf("venue with router %s has no name", v.Router.Hex())
		}
		if _, dup := r.venues[v.Name]; dup {
			return nil, fmt.Errorf("duplicate venue %q", v.Name)
		}
		if other, dup := r.byRouter[v.Router]; dup {
			return nil, fmt.Errorf("venues %q and %q share router %s", other.Name, v.Name, v.Router.Hex())
		}
		if v.FeeBps >= 10000 {
			return nil, fmt.Errorf("venue %q: fee %d bps out of range", v.Name, v.FeeBps)
		}
		r.venues[v.Name] = v
		r.byRouter[v.Router] = v
		r.names = append(r.names, v.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

func (r *Registry) Venue(name string) (Venue, bool) {
	v, ok := r.venues[name]
	return v, ok
}

func (r *Registry) ByRouter(router common.Address) (Venue, bool) {
	v, ok := r.byRouter[router]
	return v, ok
}

// Adapter returns the adapter serving venue's protocol.
func (r *Registry) Adapter(venue Venue) (Adapter, error) {
	a, ok := r.adapters[venue.Protocol]
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNoAdapter, venue.Protocol, venue.Name)
	}
	return a, nil
}

// Venues lists all venues sorted by name.
func (r *Registry) Venues() []Venue {
	out := make([]Venue, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.venues[n])
	}
	return out
}

// Tradable lists venues that have an adapter, sorted by name.
func (r *Registry) Tradable() []Venue {
	var out []Venue
	for _, v := range r.Venues() {
		if _, ok := r.adapters[v.Protocol]; ok {
			out = append(out, v)
		}
	}
	return out
}

func (r *Registry) Len() int { return len(r.names) }
