package call

import (
	"sync"

	"github.com/solvencyai/voicecollect/internal/observability/metrics"
)

// Registry maps destination numbers to their single active session. Claims
// are atomic per number so two initiations for the same number can never
// both proceed.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	metrics  *metrics.CallMetrics
}

func NewRegistry(m *metrics.CallMetrics) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		metrics:  m,
	}
}

// Claim registers a session for its number. A second claim for the same
// number is rejected as a conflict.
func (r *Registry) Claim(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.Number]; exists {
		return reject(RejectConflict, "a call to %s is already active", s.Number)
	}
	r.sessions[s.Number] = s
	r.metrics.SessionRegistered()
	return nil
}

// Lookup returns the active session for a number, if any.
func (r *Registry) Lookup(number string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[number]
	return s, ok
}

// Release removes the session registered for a number. Releasing an
// unclaimed number is a no-op.
func (r *Registry) Release(number string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[number]; !ok {
		return
	}
	delete(r.sessions, number)
	r.metrics.SessionReleased()
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Active returns a snapshot of the registered sessions.
func (r *Registry) Active() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
