package bunquery

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kartikbazzad/bunbase/bunquery/storage"
)

// Model describes an entity type: the store its records live in and the
// relations that can be eager-loaded with With.
type Model struct {
	Name      string
	Store     string // defaults to Name
	Relations map[string]Relation
}

// Relation returns the named relation.
func (m *Model) Relation(name string) (Relation, error) {
	rel, ok := m.Relations[name]
	if !ok {
		return Relation{}, fmt.Errorf("%w %q on model %q", ErrUnknownRelation, name, m.Name)
	}
	return rel, nil
}

// Registry maps model names to their relation tables. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	models  map[string]*Model
	byStore map[string]*Model // first model registered for a store
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		models:  make(map[string]*Model),
		byStore: make(map[string]*Model),
	}
}

// Register adds m. The registry keeps its own copy.
func (r *Registry) Register(m Model) error {
	if m.Name == "" {
		return fmt.Errorf("%w: model name is required", ErrInvalidModel)
	}
	if m.Store == "" {
		m.Store = m.Name
	}
	if err := storage.ValidateStoreName(m.Store); err != nil {
		return fmt.Errorf("model %q: %w", m.Name, err)
	}

	rels := make(map[string]Relation, len(m.Relations))
	for name, rel := range m.Relations {
		if name == "" {
			return fmt.Errorf("%w: model %q has an unnamed relation", ErrInvalidModel, m.Name)
		}
		if err := rel.validate(); err != nil {
			return fmt.Errorf("model %q relation %q: %w", m.Name, name, err)
		}
		rels[name] = rel
	}
	m.Relations = rels

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[m.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateModel, m.Name)
	}
	r.models[m.Name] = &m
	if _, exists := r.byStore[m.Store]; !exists {
		r.byStore[m.Store] = &m
	}
	return nil
}

// MustRegister is Register that panics on error, for static setup.
func (r *Registry) MustRegister(m Model) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Lookup returns the model registered under name.
func (r *Registry) Lookup(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// ForStore returns the first model registered for store.
func (r *Registry) ForStore(store string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byStore[store]
	return m, ok
}

// Models returns the registered model names, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
