package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of a pgx pool the limiter uses.
// *pgxpool.Pool and pgxmock pools satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PG keeps the counters in the auth_limiter table so they survive restarts.
type PG struct {
	q        Querier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(q Querier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{q: q, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

const selectBlocked = `SELECT blocked_until FROM auth_limiter WHERE email = $1 AND ip_hash = $2`

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	var until time.Time
	err := l.q.QueryRow(ctx, selectBlocked, email, ipHash).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("limiter allow: %w", err)
	}
	if now := l.now(); until.After(now) {
		return false, until.Sub(now), nil
	}
	return true, 0, nil
}

const resetCounters = `
INSERT INTO auth_limiter (email, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 0, 'epoch', $3)
ON CONFLICT (email, ip_hash)
DO UPDATE SET fail_count = 0, blocked_until = 'epoch', updated_at = $3`

// Success resets counters for (email, ip).
func (l *PG) Success(ctx context.Context, email string, ipHash []byte) error {
	if _, err := l.q.Exec(ctx, resetCounters, email, ipHash, l.now()); err != nil {
		return fmt.Errorf("limiter success: %w", err)
	}
	return nil
}

// recordFailure bumps the counter (restarting it when the last failure is
// older than the window) and sets blocked_until in the same statement once
// the count reaches the threshold.
const recordFailure = `
INSERT INTO auth_limiter AS l (email, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 1, CASE WHEN $4 <= 1 THEN $3::timestamptz + $5::interval ELSE 'epoch'::timestamptz END, $3::timestamptz)
ON CONFLICT (email, ip_hash) DO UPDATE SET
  fail_count = CASE WHEN $3::timestamptz - l.updated_at > $6::interval THEN 1 ELSE l.fail_count + 1 END,
  blocked_until = CASE
    WHEN (CASE WHEN $3::timestamptz - l.updated_at > $6::interval THEN 1 ELSE l.fail_count + 1 END) >= $4
    THEN $3::timestamptz + $5::interval
    ELSE l.blocked_until END,
  updated_at = $3::timestamptz
RETURNING fail_count, blocked_until`

// Failure records a failed attempt; reaching maxFails inside the window blocks for blockFor.
func (l *PG) Failure(ctx context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	now := l.now()
	var fails int
	var until time.Time
	err := l.q.QueryRow(ctx, recordFailure, email, ipHash, now, l.maxFails, l.blockFor, l.window).
		Scan(&fails, &until)
	if err != nil {
		return false, 0, fmt.Errorf("limiter failure: %w", err)
	}
	if fails >= l.maxFails && until.After(now) {
		return true, until.Sub(now), nil
	}
	return false, 0, nil
}
