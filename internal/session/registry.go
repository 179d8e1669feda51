package session

import (
	"sync"
	"time"

	"github.com/voxgames/voxbank/internal/game"
	"github.com/voxgames/voxbank/internal/id"
	"github.com/voxgames/voxbank/internal/platform/errors"
)

// Registry tracks the live session per (chat, game type) slot. Acquire is
// atomic: two concurrent starts for the same key yield exactly one success.
type Registry struct {
	mu       sync.Mutex
	sessions map[Key]*Session
	clock    func() time.Time
}

// NewRegistry creates an empty registry. A nil clock defaults to time.Now.
func NewRegistry(clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		sessions: make(map[Key]*Session),
		clock:    clock,
	}
}

// Acquire claims the slot for key and installs machine as its initial
// state. It fails with SESSION_ALREADY_ACTIVE when the slot is taken.
func (r *Registry) Acquire(key Key, machine game.Machine) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[key]; ok {
		return nil, errors.WithMetadata(errors.CodeSessionAlreadyActive,
			"a session is already active for this chat and game",
			map[string]string{
				"chat_id":    key.ChatID,
				"game":       string(key.Game),
				"session_id": existing.ID,
			})
	}

	sessionID, err := id.NewID()
	if err != nil {
		return nil, errors.Wrap(errors.CodeUnknown, "generate session id", err)
	}
	s := &Session{
		Key:        key,
		ID:         sessionID,
		Machine:    machine,
		LastActive: r.clock(),
	}
	r.sessions[key] = s
	return s, nil
}

// Get returns the live session for key.
func (r *Registry) Get(key Key) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	if !ok {
		return nil, errors.WithMetadata(errors.CodeSessionNotFound,
			"no active session for this chat and game",
			map[string]string{"chat_id": key.ChatID, "game": string(key.Game)})
	}
	return s, nil
}

// Release frees the slot. Releasing an already-free slot is a no-op so
// terminal transitions and the sweep can race safely.
func (r *Registry) Release(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
}

// releaseIf frees the slot only while it still holds s, so a stale
// holder cannot evict a successor session.
func (r *Registry) releaseIf(key Key, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[key] == s {
		delete(r.sessions, key)
	}
}

// Idle returns the sessions whose last activity predates cutoff. The
// registry lock is dropped before any session lock is taken: holders of
// a session lock call back into the registry to release their slot, so
// nesting the locks the other way around would deadlock.
func (r *Registry) Idle(cutoff time.Time) []*Session {
	sessions := r.Live()

	var idle []*Session
	for _, s := range sessions {
		s.mu.Lock()
		stale := s.LastActive.Before(cutoff)
		s.mu.Unlock()
		if stale {
			idle = append(idle, s)
		}
	}
	return idle
}

// Live returns all current sessions, in no particular order.
func (r *Registry) Live() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
