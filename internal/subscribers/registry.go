package subscribers

import (
	"sync"

	"github.com/voyagen/popcorngate/internal/models"
)

// Registry maps user ids to their registered sessions. Every operation
// runs under one mutex; the registry lock is always taken before a
// session's own lock.
type Registry struct {
	mu     sync.Mutex
	byUser map[string][]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string][]*Session)}
}

// Register binds c to s and adds s under the claim's user id. Registering
// the same session twice adds it twice.
func (r *Registry) Register(s *Session, c models.Claim) error {
	if !c.IsValid() {
		return ErrInvalidClaim
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s.setClaim(c)
	r.byUser[c.UserID] = append(r.byUser[c.UserID], s)
	return nil
}

// Unregister removes s from its user's set and reports whether it was
// present. Sessions without a claim, or already removed, are ignored.
func (r *Registry) Unregister(s *Session) bool {
	c, ok := s.Claim()
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := r.byUser[c.UserID]
	for i, cur := range sessions {
		if cur != s {
			continue
		}
		sessions = append(sessions[:i], sessions[i+1:]...)
		if len(sessions) == 0 {
			delete(r.byUser, c.UserID)
		} else {
			r.byUser[c.UserID] = sessions
		}
		return true
	}
	return false
}

// IsLoggedIn returns the session claim or ErrNotLoggedIn.
func (r *Registry) IsLoggedIn(s *Session) (models.Claim, error) {
	c, ok := s.Claim()
	if !ok {
		return models.Claim{}, ErrNotLoggedIn
	}
	return c, nil
}

// CountViewers counts registered sessions currently watching sid.
func (r *Registry) CountViewers(sid string) int {
	if sid == "" {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, sessions := range r.byUser {
		for _, s := range sessions {
			if s.Watching() == sid {
				n++
			}
		}
	}
	return n
}

// SetWatching records that s is now playing sid.
func (r *Registry) SetWatching(s *Session, sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.setWatching(sid)
}

// DeviceInUse reports whether a registered session of uid already uses deviceID.
func (r *Registry) DeviceInUse(uid, deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byUser[uid] {
		if c, ok := s.Claim(); ok && c.DeviceID == deviceID {
			return true
		}
	}
	return false
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, sessions := range r.byUser {
		n += len(sessions)
	}
	return n
}
