// Package store holds the directory tables in memory.
//
// Each table has its own lock. A mutation holds its table lock for the
// in-memory change and the synchronous save of that table; if the save fails
// the change is undone before the lock is released.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/p2p-share/internal/model"
	"github.com/and161185/p2p-share/internal/repository"
)

// DefaultSessionTTL is the session lifetime counted from login.
const DefaultSessionTTL = time.Hour

// Result caps of the list operations.
const (
	MaxSearchResults = 100
	MaxPeerResults   = 50
)

// TokenFunc produces a fresh session token for email.
type TokenFunc func(email string) (string, error)

// Option customizes a Store.
type Option func(*Store)

// WithSessionTTL sets the session lifetime.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.sessions.ttl = d
		}
	}
}

// WithTokenFunc replaces the default random token generator.
func WithTokenFunc(fn TokenFunc) Option {
	return func(s *Store) { s.sessions.newToken = fn }
}

// WithClock replaces time.Now for session bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the directory state shared by every connection worker.
type Store struct {
	log *zap.Logger
	now func() time.Time

	users    userTable
	files    fileTable
	sessions sessionTable
	peers    peerTable
}

// New loads the persisted tables and returns a ready store.
func New(ctx context.Context, users repository.UserTable, files repository.FileTable, log *zap.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		log: log,
		now: time.Now,
		users: userTable{
			byEmail: make(map[string]model.User),
			persist: users,
		},
		files: fileTable{
			byKey:   make(map[fileKey]fileRow),
			persist: files,
		},
		sessions: sessionTable{
			byToken:  make(map[string]model.Session),
			ttl:      DefaultSessionTTL,
			newToken: randomToken,
		},
		peers: peerTable{
			byEmail: make(map[string]model.ConnectedPeer),
		},
	}
	for _, o := range opts {
		o(s)
	}

	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	users, err := s.users.persist.LoadUsers(ctx)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	for _, u := range users {
		if _, dup := s.users.byEmail[u.Email]; dup {
			s.log.Warn("duplicate user row ignored", zap.String("email", u.Email))
			continue
		}
		s.users.byEmail[u.Email] = u
	}

	files, err := s.files.persist.LoadFiles(ctx)
	if err != nil {
		return fmt.Errorf("load files: %w", err)
	}
	seq := uint64(0)
	for _, f := range files {
		if _, ok := s.users.byEmail[f.OwnerEmail]; !ok {
			s.log.Warn("file row with unknown owner ignored",
				zap.String("hash", f.Hash), zap.String("owner", f.OwnerEmail))
			continue
		}
		seq++
		s.files.byKey[fileKey{hash: f.Hash, owner: f.OwnerEmail}] = fileRow{PublishedFile: f, seq: seq}
	}
	s.files.seq = seq

	s.log.Info("directory loaded", zap.Int("users", len(s.users.byEmail)), zap.Int("files", len(s.files.byKey)))
	return nil
}

func randomToken(string) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
