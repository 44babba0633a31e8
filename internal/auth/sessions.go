package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// NewState returns an unguessable OAuth state value.
func NewState() string {
	return uuid.NewString()
}

const DefaultSessionTTL = 24 * time.Hour

type session struct {
	email   string
	expires time.Time
}

// Sessions is an in-memory session table keyed by random ids.
type Sessions struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]session
}

func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{ttl: ttl, now: time.Now, sessions: make(map[string]session)}
}

// Create starts a session for email and returns its id.
func (s *Sessions) Create(email string) string {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = session{email: email, expires: s.now().Add(s.ttl)}
	return id
}

// Lookup returns the email bound to a live session.
func (s *Sessions) Lookup(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return "", false
	}
	if s.now().After(sess.expires) {
		delete(s.sessions, id)
		return "", false
	}
	return sess.email, true
}

func (s *Sessions) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}
