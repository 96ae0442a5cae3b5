package workflow

import (
	"sync"
)

// Registry maps workflow names to compiled MapReduce plans. When several
// versions of a workflow are registered, the latest registration wins for
// lookup by name while older versions stay reachable by hash. It is safe
// for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	latest   map[string]*MapReducePlan
	versions map[string]*MapReducePlan // hash → plan
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		latest:   make(map[string]*MapReducePlan),
		versions: make(map[string]*MapReducePlan),
	}
}

// Register records p under its name and hash.
func (r *Registry) Register(p *MapReducePlan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest[p.Name] = p
	r.versions[p.Hash] = p
}

// Get returns the latest plan registered under name.
func (r *Registry) Get(name string) (*MapReducePlan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.latest[name]
	return p, ok
}

// Version returns the plan with the given hash.
func (r *Registry) Version(hash string) (*MapReducePlan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.versions[hash]
	return p, ok
}
