// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/service/engine layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique key violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates failed authentication (bad email/secret).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidToken indicates a missing, expired or foreign session token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrAlreadyLoggedIn indicates the user already has an active peer endpoint.
	ErrAlreadyLoggedIn = errors.New("already logged in")

	// ErrNotOwner indicates the caller owns no published entry for a hash.
	ErrNotOwner = errors.New("file not owned")

	// ErrInvalidInput indicates a validation failure (bad or oversized field).
	ErrInvalidInput = errors.New("invalid input")

	// ErrProtocol indicates a malformed or out-of-sequence message.
	ErrProtocol = errors.New("protocol error")

	// ErrNoPeers indicates no online peer holds the requested content.
	ErrNoPeers = errors.New("no peers")

	// ErrIncomplete indicates a download ended with chunks still missing.
	ErrIncomplete = errors.New("download incomplete")
)
