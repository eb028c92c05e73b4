package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuthTokenAttr is the well-known attribute holding the session
// authentication marker. Its presence means the session is authenticated.
const AuthTokenAttr = "WSAuthToken"

// Session is the server-side state scoped to one client. It carries opaque
// attributes, the lazily-created authorization descriptor, and activity
// timestamps used for TTL expiry.
//
// All mutation goes through the session's own lock; sessions never share
// locks with each other.
type Session struct {
	id        string
	createdAt time.Time

	mu         sync.Mutex
	attrs      map[string]any
	descriptor *Descriptor
	lastActive time.Time
	ended      bool
}

func newSession() *Session {
	now := time.Now()
	return &Session{
		id:         uuid.New().String(),
		createdAt:  now,
		attrs:      make(map[string]any),
		lastActive: now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// SessionID implements message.SessionRef.
func (s *Session) SessionID() string {
	return s.id
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// LastActive returns the time of the most recent session activity.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Touch records session activity, deferring TTL expiry.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// SetAttribute stores a session-scoped attribute.
func (s *Session) SetAttribute(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

// Attribute returns a session-scoped attribute and whether it is present.
func (s *Session) Attribute(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

// RemoveAttribute deletes a session-scoped attribute.
func (s *Session) RemoveAttribute(key string) {
	s.mu.Lock()
	delete(s.attrs, key)
	s.mu.Unlock()
}

// HasToken reports whether the authentication marker is present.
func (s *Session) HasToken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.attrs[AuthTokenAttr]
	return ok
}

// Descriptor returns the session's authorization descriptor, creating it on
// first access.
func (s *Session) Descriptor() *Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.descriptor == nil {
		s.descriptor = NewDescriptor()
	}
	return s.descriptor
}

// GrantAuthentication atomically sets the authentication marker and grants
// role. The marker and the role always change together so the authenticated
// state and the descriptor never disagree.
func (s *Session) GrantAuthentication(role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[AuthTokenAttr] = AuthTokenAttr
	if s.descriptor == nil {
		s.descriptor = NewDescriptor()
	}
	s.descriptor.Add(role)
	s.lastActive = time.Now()
}

// RevokeAuthentication atomically clears the authentication marker and
// revokes role. Returns whether the session was actually authenticated;
// calling on an anonymous session is a no-op.
func (s *Session) RevokeAuthentication(role string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attrs[AuthTokenAttr]; !ok {
		return false
	}
	delete(s.attrs, AuthTokenAttr)
	if s.descriptor != nil {
		s.descriptor.Remove(role)
	}
	return true
}

// end marks the session terminated and clears its state.
func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	s.attrs = make(map[string]any)
	if s.descriptor != nil {
		s.descriptor.clear()
	}
}

// Ended reports whether the session has been removed from its store.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}
