package actions

import (
	"sort"
	"sync"

	"github.com/obwan02/Actionator/pkg/schema"
)

// Registry is the concrete thread-safe ActionRegistry implementation.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*Descriptor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]*Descriptor),
	}
}

// Register describes fn and adds it to the registry. Returns a SCHEMA_ERROR
// when fn has an unsupported shape and a CONFLICT on duplicate name.
func (r *Registry) Register(fn any, opts ...Option) (*Descriptor, error) {
	d, err := Describe(fn, opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Add(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Add registers an already built descriptor.
func (r *Registry) Add(d *Descriptor) error {
	if d == nil {
		return schema.NewError(schema.ErrCodeSchema, "descriptor is nil")
	}
	if d.Name == "" {
		return schema.NewError(schema.ErrCodeSchema, "action name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[d.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", d.Name)
	}

	r.actions[d.Name] = d
	return nil
}

// Get retrieves an action by name.
func (r *Registry) Get(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.actions[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action %q not registered", name)
	}
	return d, nil
}

// List returns info for all registered actions, sorted by name.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActionInfo, 0, len(r.actions))
	for _, d := range r.actions {
		infos = append(infos, d.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Has checks if an action is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

var _ ActionRegistry = (*Registry)(nil)
