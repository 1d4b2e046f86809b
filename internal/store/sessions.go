package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/and161185/p2p-share/internal/model"
)

type sessionTable struct {
	mu       sync.Mutex
	byToken  map[string]model.Session
	ttl      time.Duration
	newToken TokenFunc
}

// CreateSession issues a fresh token for email. Expired sessions are
// dropped while the table is locked.
func (s *Store) CreateSession(email string) (string, error) {
	t := &s.sessions
	t.mu.Lock()
	defer t.mu.Unlock()

	now := s.now()
	for tok, ss := range t.byToken {
		if now.Sub(ss.CreatedAt) >= t.ttl {
			delete(t.byToken, tok)
		}
	}

	token, err := t.newToken(email)
	if err != nil {
		return "", fmt.Errorf("new token: %w", err)
	}
	if _, dup := t.byToken[token]; dup {
		return "", fmt.Errorf("new token: duplicate")
	}
	t.byToken[token] = model.Session{Token: token, OwnerEmail: email, CreatedAt: now}
	return token, nil
}

// VerifySession reports whether token was issued to email and has not expired.
func (s *Store) VerifySession(token, email string) bool {
	t := &s.sessions
	t.mu.Lock()
	defer t.mu.Unlock()

	ss, ok := t.byToken[token]
	if !ok || ss.OwnerEmail != email {
		return false
	}
	if s.now().Sub(ss.CreatedAt) >= t.ttl {
		delete(t.byToken, token)
		return false
	}
	return true
}

// DestroySession forgets token. Unknown tokens are ignored.
func (s *Store) DestroySession(token string) {
	s.sessions.mu.Lock()
	delete(s.sessions.byToken, token)
	s.sessions.mu.Unlock()
}

// SessionCount returns the number of live entries, expired ones included.
func (s *Store) SessionCount() int {
	s.sessions.mu.Lock()
	defer s.sessions.mu.Unlock()
	return len(s.sessions.byToken)
}
