package document

import (
	"fmt"
	"sort"
	"sync"
)

// Registry tracks the live documents hosted by the process.
type Registry struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{docs: make(map[string]*Document)}
}

// Create registers a new document seeded with text.
func (r *Registry) Create(id, text string) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; ok {
		return nil, fmt.Errorf("document %s already exists", id)
	}
	d := NewWithText(id, text)
	r.docs[id] = d
	return d, nil
}

// Get looks up a document by id.
func (r *Registry) Get(id string) (*Document, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[id]
	return d, ok
}

// List returns all documents ordered by id.
func (r *Registry) List() []*Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Document, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Remove drops a document from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
}
