package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/p2p-share/internal/errs"
)

// TokenSigner issues and checks HS256 session tokens.
// The subject is the account email; jti makes every token unique.
type TokenSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenSigner constructs a signer. ttl should match the store session lifetime.
func NewTokenSigner(key []byte, ttl time.Duration) *TokenSigner {
	return &TokenSigner{key: key, ttl: ttl, now: time.Now}
}

// Issue returns a signed token for email. Its signature matches store.TokenFunc.
func (s *TokenSigner) Issue(email string) (string, error) {
	jti, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   email,
		ID:        jti.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.key)
}

// Subject validates the signature and expiry of token and returns its email.
func (s *TokenSigner) Subject(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: expired", errs.ErrInvalidToken)
		}
		return "", fmt.Errorf("%w: %v", errs.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: no subject", errs.ErrInvalidToken)
	}
	return claims.Subject, nil
}
