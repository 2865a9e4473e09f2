package subscribers

import (
	"sync"

	"github.com/google/uuid"

	"github.com/voyagen/popcorngate/internal/models"
)

// Transport tags a session with the connection kind that owns it. The tag
// is fixed when the connection is accepted.
type Transport string

const (
	TransportWebsocket Transport = "websocket"
	TransportHTTP      Transport = "http"
)

// Session is one live connection from a subscriber device. It is created
// on accept, gets a claim on login and is never reused after disconnect.
type Session struct {
	id        string
	transport Transport

	mu       sync.Mutex
	claim    *models.Claim
	watching string
}

// NewSession creates an unauthenticated session.
func NewSession(t Transport) *Session {
	return &Session{id: uuid.NewString(), transport: t}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Transport returns the connection kind.
func (s *Session) Transport() Transport { return s.transport }

// Claim returns the session claim, if any.
func (s *Session) Claim() (models.Claim, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claim == nil {
		return models.Claim{}, false
	}
	return *s.claim, true
}

// Watching returns the id of the stream currently played, or "".
func (s *Session) Watching() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watching
}

func (s *Session) setClaim(c models.Claim) {
	s.mu.Lock()
	s.claim = &c
	s.mu.Unlock()
}

func (s *Session) setWatching(sid string) {
	s.mu.Lock()
	s.watching = sid
	s.mu.Unlock()
}
