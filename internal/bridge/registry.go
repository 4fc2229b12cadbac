package bridge

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var (
	ErrDuplicateSession = errors.New("session already registered for call id")
	ErrNotFound         = errors.New("session not found")
)

// Registry is the process-wide map from call id to live session. It only holds
// session handles and never performs I/O under its lock; sessions register on
// call start and unregister exactly once on reaching Closed.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register rejects duplicate call ids: a collision is a protocol violation and
// must never silently replace the existing session.
func (r *Registry) Register(callSid string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[callSid]; ok {
		return ErrDuplicateSession
	}
	r.sessions[callSid] = s
	return nil
}

func (r *Registry) Lookup(callSid string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callSid]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (r *Registry) Unregister(callSid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callSid)
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshots returns point-in-time views of every live session.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	handles := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		handles = append(handles, s)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(handles))
	for _, s := range handles {
		out = append(out, s.Snapshot())
	}
	return out
}

// StartJanitor force-closes sessions with no activity on either link for
// longer than idleTimeout. Cleanup never relies on process restart.
func (r *Registry) StartJanitor(ctx context.Context, interval, idleTimeout time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireIdle(idleTimeout)
			}
		}
	}()
}

func (r *Registry) expireIdle(idleTimeout time.Duration) {
	if idleTimeout <= 0 {
		return
	}
	r.mu.RLock()
	var stale []*Session
	for _, s := range r.sessions {
		if s.IdleFor() > idleTimeout {
			stale = append(stale, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range stale {
		log.Printf("registry: closing idle session %s", s.ID())
		s.Shutdown()
	}
}
