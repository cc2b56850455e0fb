package server

import "sync"

// Registry indexes the live sessions of a ChatServer by connection id and
// by user.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[int]map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byUser:   make(map[int]map[string]*Session),
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.id] = s
	if r.byUser[s.principal.UserId] == nil {
		r.byUser[s.principal.UserId] = make(map[string]*Session)
	}
	r.byUser[s.principal.UserId][s.id] = s
}

// Remove drops s and reports whether it was registered.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.id]; !ok {
		return false
	}
	delete(r.sessions, s.id)

	if userSessions, ok := r.byUser[s.principal.UserId]; ok {
		delete(userSessions, s.id)
		if len(userSessions) == 0 {
			delete(r.byUser, s.principal.UserId)
		}
	}
	return true
}

func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

func (r *Registry) ForUser(userId int) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.byUser[userId]))
	for _, s := range r.byUser[userId] {
		sessions = append(sessions, s)
	}
	return sessions
}

func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
