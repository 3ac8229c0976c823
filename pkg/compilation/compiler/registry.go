package compiler

import (
	"sort"
	"sync"
)

// Registry manages available language configurations
type Registry struct {
	mu        sync.RWMutex
	languages map[string]*LanguageSpec
}

// NewRegistry creates a new language registry
func NewRegistry() *Registry {
	return &Registry{
		languages: make(map[string]*LanguageSpec),
	}
}

// NewDefaultRegistry creates a registry holding the default languages
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, spec := range DefaultLanguages() {
		// defaults are valid and unique
		_ = r.Register(spec)
	}
	return r
}

// Register adds a language to the registry
func (r *Registry) Register(spec *LanguageSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.languages[spec.ID]; exists {
		return ErrLanguageAlreadyExists
	}

	r.languages[spec.ID] = spec
	return nil
}

// Get retrieves an enabled language by ID
func (r *Registry) Get(id string) (*LanguageSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, exists := r.languages[id]
	if !exists {
		return nil, ErrLanguageNotFound
	}
	if !spec.Enabled {
		return nil, ErrLanguageDisabled
	}

	return spec, nil
}

// ForExtension returns the enabled language compiling files with ext
func (r *Registry) ForExtension(ext string) (*LanguageSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, spec := range r.languages {
		if spec.Enabled && spec.HandlesExtension(ext) {
			return spec, nil
		}
	}
	return nil, ErrLanguageNotFound
}

// List returns all registered languages sorted by ID
func (r *Registry) List() []*LanguageSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]*LanguageSpec, 0, len(r.languages))
	for _, spec := range r.languages {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })

	return specs
}

// Update updates an existing language configuration
func (r *Registry) Update(spec *LanguageSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.languages[spec.ID]; !exists {
		return ErrLanguageNotFound
	}

	r.languages[spec.ID] = spec
	return nil
}

// Count returns the number of registered languages
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.languages)
}
