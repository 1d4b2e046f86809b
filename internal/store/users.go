package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/and161185/p2p-share/internal/crypto"
	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/model"
	"github.com/and161185/p2p-share/internal/repository"
)

type userTable struct {
	mu      sync.RWMutex
	byEmail map[string]model.User
	persist repository.UserTable
}

// snapshot must be called with mu held.
func (t *userTable) snapshot() []model.User {
	out := make([]model.User, 0, len(t.byEmail))
	for _, u := range t.byEmail {
		out = append(out, u)
	}
	sortUsers(out)
	return out
}

// RegisterUser adds an account. secret is stored as given.
func (s *Store) RegisterUser(ctx context.Context, email, displayName, secret string) error {
	t := &s.users
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byEmail[email]; ok {
		return errs.ErrAlreadyExists
	}
	t.byEmail[email] = model.User{Email: email, DisplayName: displayName, Secret: secret}
	if err := t.persist.SaveUsers(ctx, t.snapshot()); err != nil {
		delete(t.byEmail, email)
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}

// Authenticate reports whether password matches the stored secret of email.
func (s *Store) Authenticate(email, password string) bool {
	s.users.mu.RLock()
	u, ok := s.users.byEmail[email]
	s.users.mu.RUnlock()
	if !ok {
		return false
	}
	return crypto.CheckSecret(u.Secret, password)
}

// User returns the account of email.
func (s *Store) User(email string) (model.User, error) {
	s.users.mu.RLock()
	defer s.users.mu.RUnlock()

	u, ok := s.users.byEmail[email]
	if !ok {
		return model.User{}, errs.ErrNotFound
	}
	return u, nil
}

func (s *Store) userExists(email string) bool {
	s.users.mu.RLock()
	defer s.users.mu.RUnlock()

	_, ok := s.users.byEmail[email]
	return ok
}

func sortUsers(us []model.User) {
	sort.Slice(us, func(i, j int) bool { return us[i].Email < us[j].Email })
}
