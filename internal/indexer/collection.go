package indexer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leonunix/portalindex/internal/source"
)

// Collection is one searchable entity type: a stable alias readers query,
// the schema every generation gets, and the source its documents come from.
type Collection struct {
	Name string
	// Alias is the name readers use. Defaults to Name.
	Alias string
	// Mapping is the body of a put-mapping call ({"properties": {...}}).
	Mapping json.RawMessage
	// Settings, if set, are applied to the closed index before the mapping
	// (analysis settings cannot be changed on an open index).
	Settings json.RawMessage
	Source   source.Source
}

// Registry is the fixed set of collections a Manager rebuilds, in
// registration order.
type Registry struct {
	collections []Collection
	byName      map[string]int
}

// NewRegistry validates the collections and indexes them by name. Names and
// aliases must be unique, and aliases must be valid lowercase index names.
func NewRegistry(collections ...Collection) (*Registry, error) {
	r := &Registry{byName: make(map[string]int, len(collections))}
	aliases := make(map[string]string, len(collections))
	for _, c := range collections {
		if c.Name == "" {
			return nil, fmt.Errorf("collection without name")
		}
		if c.Alias == "" {
			c.Alias = c.Name
		}
		if err := validateAlias(c.Alias); err != nil {
			return nil, fmt.Errorf("collection %s: %w", c.Name, err)
		}
		if c.Source == nil {
			return nil, fmt.Errorf("collection %s: no document source", c.Name)
		}
		if _, dup := r.byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate collection %s", c.Name)
		}
		if other, dup := aliases[c.Alias]; dup {
			return nil, fmt.Errorf("collections %s and %s share alias %s", other, c.Name, c.Alias)
		}
		aliases[c.Alias] = c.Name
		r.byName[c.Name] = len(r.collections)
		r.collections = append(r.collections, c)
	}
	return r, nil
}

func validateAlias(alias string) error {
	if alias != strings.ToLower(alias) {
		return fmt.Errorf("alias %q must be lowercase", alias)
	}
	if strings.HasPrefix(alias, "_") || strings.HasPrefix(alias, "-") || strings.HasPrefix(alias, "+") {
		return fmt.Errorf("alias %q must not start with _, - or +", alias)
	}
	if strings.ContainsAny(alias, `\/*?"<>| ,#:`) {
		return fmt.Errorf("alias %q contains an invalid character", alias)
	}
	return nil
}

// Get returns the collection registered under name.
func (r *Registry) Get(name string) (Collection, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Collection{}, false
	}
	return r.collections[i], true
}

// All returns every collection in registration order.
func (r *Registry) All() []Collection {
	return append([]Collection(nil), r.collections...)
}

// Names returns the collection names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.collections))
	for i, c := range r.collections {
		names[i] = c.Name
	}
	return names
}
