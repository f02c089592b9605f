package engine

import (
	"sort"
	"sync"
)

// Registry is the process-wide index of live stream sessions. Every
// non-terminal session has exactly one entry; the entry is removed at the
// moment the session finishes. Bulk operations iterate a snapshot, so
// sessions created mid-iteration are untouched.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a live session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

// Remove drops a session. Safe to call more than once.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get looks up a live session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot returns the live sessions at this instant, ordered by start time.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].startedAt.Equal(out[j].startedAt) {
			return out[i].startedAt.Before(out[j].startedAt)
		}
		return out[i].id < out[j].id
	})
	return out
}

// ByDocument returns the live sessions targeting the given document.
func (r *Registry) ByDocument(documentID string) []*Session {
	var out []*Session
	for _, s := range r.Snapshot() {
		if s.doc.ID() == documentID {
			out = append(out, s)
		}
	}
	return out
}

// CountByDocument returns how many live sessions target the given document.
func (r *Registry) CountByDocument(documentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.doc.ID() == documentID {
			n++
		}
	}
	return n
}
