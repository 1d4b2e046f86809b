// Package service contains application services for accounts and published files.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/p2p-share/internal/crypto"
	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/limiter"
	"github.com/and161185/p2p-share/internal/model"
	"github.com/and161185/p2p-share/internal/wire"
)

// Accounts is the part of the directory store used by AuthServiceImpl.
type Accounts interface {
	RegisterUser(ctx context.Context, email, displayName, secret string) error
	Authenticate(email, password string) bool
	User(email string) (model.User, error)
	CreateSession(email string) (string, error)
	VerifySession(token, email string) bool
	DestroySession(token string)
	AddConnectedPeer(email, ip string, port int, token string) error
	RemoveConnectedPeer(email, token string) bool
}

// AuthService defines account and session operations.
type AuthService interface {
	// Register creates a new account with a hashed secret.
	Register(ctx context.Context, email, displayName, password string) error
	// Login applies rate limiting, authenticates, records the peer endpoint and opens a session.
	Login(ctx context.Context, email, password string, ep model.PeerEndpoint) (model.User, string, error)
	// Logout closes the session and drops the peer endpoint.
	Logout(ctx context.Context, email, token string) error
	// VerifySession checks that token is live and bound to email.
	VerifySession(email, token string) error
}

type AuthServiceImpl struct {
	store  Accounts
	tokens *TokenSigner
	lim    limiter.Limiter
	log    *zap.Logger
}

// NewAuthService constructs AuthService with required dependencies.
// tokens may be nil when the store issues opaque tokens.
func NewAuthService(store Accounts, tokens *TokenSigner, lim limiter.Limiter, log *zap.Logger) *AuthServiceImpl {
	return &AuthServiceImpl{store: store, tokens: tokens, lim: lim, log: log}
}

// Register validates input and stores the account.
func (s *AuthServiceImpl) Register(ctx context.Context, email, displayName, password string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	if displayName == "" || password == "" {
		return invalid("empty username/password")
	}
	if err := wire.CheckString(displayName, wire.UsernameCap); err != nil {
		return err
	}
	if err := wire.CheckString(password, wire.PasswordCap); err != nil {
		return err
	}
	if err := storable("username", displayName); err != nil {
		return err
	}

	secret, err := pkgcrypto.EncodeSecret(password)
	if err != nil {
		return err
	}
	if err := s.store.RegisterUser(ctx, email, displayName, secret); err != nil {
		return err
	}
	s.log.Info("user registered", zap.String("email", email))
	return nil
}

// Login authenticates with rate limiting by (email, ip).
func (s *AuthServiceImpl) Login(ctx context.Context, email, password string, ep model.PeerEndpoint) (model.User, string, error) {
	ipHash := limiter.HashIP(ep.IP)

	allowed, _, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return model.User{}, "", err
	}
	if !allowed {
		return model.User{}, "", errs.ErrRateLimited
	}

	if !s.store.Authenticate(email, password) {
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			s.log.Warn("login blocked", zap.String("email", email), zap.String("ip", ep.IP))
			return model.User{}, "", errs.ErrRateLimited
		}
		return model.User{}, "", errs.ErrUnauthorized
	}

	// Success: reset counters (best-effort).
	_ = s.lim.Success(ctx, email, ipHash)

	u, err := s.store.User(email)
	if err != nil {
		return model.User{}, "", err
	}
	token, err := s.store.CreateSession(email)
	if err != nil {
		return model.User{}, "", fmt.Errorf("create session: %w", err)
	}
	if err := s.store.AddConnectedPeer(email, ep.IP, ep.Port, token); err != nil {
		s.store.DestroySession(token)
		return model.User{}, "", err
	}
	return u, token, nil
}

// VerifySession checks the token signature (when signed tokens are used) and the session table.
func (s *AuthServiceImpl) VerifySession(email, token string) error {
	if token == "" {
		return errs.ErrInvalidToken
	}
	if s.tokens != nil {
		sub, err := s.tokens.Subject(token)
		if err != nil {
			return err
		}
		if sub != email {
			return fmt.Errorf("%w: token issued to another account", errs.ErrInvalidToken)
		}
	}
	if !s.store.VerifySession(token, email) {
		return errs.ErrInvalidToken
	}
	return nil
}

// Logout destroys the session and removes the peer endpoint it recorded.
func (s *AuthServiceImpl) Logout(_ context.Context, email, token string) error {
	if err := s.VerifySession(email, token); err != nil {
		return err
	}
	s.store.DestroySession(token)
	s.store.RemoveConnectedPeer(email, token)
	return nil
}

