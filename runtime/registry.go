package runtime

import (
	"sync"

	"meeting-server/contract"
	"meeting-server/errors"
)

// Registry is the bidirectional table between live sessions and
// participant IDs for one room.
//
// The owning room worker is the only mutator, which keeps the registry
// membership and the room participant table moving in lockstep. The
// mutex only covers readers arriving from outside the worker.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]contract.Session // participant -> live connection
	owners   map[contract.Session]string // live connection -> participant
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]contract.Session),
		owners:   make(map[contract.Session]string),
	}
}

// Register binds a session to a participant ID. IDs are unique per
// connection attempt, a second registration of the same ID is refused
// and the room stays untouched.
func (r *Registry) Register(session contract.Session, participantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[participantID]; exists {
		return errors.ErrDuplicateParticipant
	}
	r.sessions[participantID] = session
	r.owners[session] = participantID
	return nil
}

// Resolve returns the live session for a participant, if any.
// Absence is an expected race, not an error.
func (r *Registry) Resolve(participantID string) (contract.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[participantID]
	return session, ok
}

// Release unbinds a participant and returns its session.
func (r *Registry) Release(participantID string) (contract.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[participantID]
	if !ok {
		return nil, false
	}
	delete(r.sessions, participantID)
	delete(r.owners, session)
	return session, true
}

// ReleaseSession unbinds by connection, invoked once per connection
// close, and feeds the leave path with the participant it owned.
func (r *Registry) ReleaseSession(session contract.Session) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	participantID, ok := r.owners[session]
	if !ok {
		return "", false
	}
	delete(r.sessions, participantID)
	delete(r.owners, session)
	return participantID, true
}

// SinksExcept retrieves every live session in the room, minus an
// optional excluded participant. An empty exclude returns everyone.
func (r *Registry) SinksExcept(excludeParticipantID string) []contract.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sinks := make([]contract.Session, 0, len(r.sessions))
	for participantID, session := range r.sessions {
		if participantID == excludeParticipantID {
			continue
		}
		sinks = append(sinks, session)
	}
	return sinks
}

// Participants returns the registered IDs.
func (r *Registry) Participants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for participantID := range r.sessions {
		ids = append(ids, participantID)
	}
	return ids
}

// Clear wipes the table and returns the sessions it held, so teardown
// can close them after the bookkeeping is gone.
func (r *Registry) Clear() []contract.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]contract.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.sessions = make(map[string]contract.Session)
	r.owners = make(map[contract.Session]string)
	return sessions
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
