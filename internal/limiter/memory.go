package limiter

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process limiter with the same window and lockout rules as PG.
// It is used when the server runs on flat files.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]*entry
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
	swept    time.Time
}

type entry struct {
	fails        int
	blockedUntil time.Time
	updatedAt    time.Time
}

// NewMemory constructs an in-memory limiter.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{
		entries:  make(map[string]*entry),
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		now:      time.Now,
	}
}

func key(email string, ipHash []byte) string { return email + "\x00" + string(ipHash) }

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *Memory) Allow(_ context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key(email, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if now := l.now(); e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success forgets the counters for (email, ip).
func (l *Memory) Success(_ context.Context, email string, ipHash []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, key(email, ipHash))
	return nil
}

// Failure records a failed attempt; reaching maxFails inside the window blocks for blockFor.
func (l *Memory) Failure(_ context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) > l.window {
		l.sweep(now)
	}
	k := key(email, ipHash)
	e, ok := l.entries[k]
	if !ok || now.Sub(e.updatedAt) > l.window {
		e = &entry{}
		l.entries[k] = e
	}
	e.fails++
	e.updatedAt = now
	if e.fails >= l.maxFails {
		e.blockedUntil = now.Add(l.blockFor)
		return true, l.blockFor, nil
	}
	return false, 0, nil
}

// sweep drops entries whose window and block have both run out.
// Callers hold l.mu.
func (l *Memory) sweep(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.updatedAt) > l.window && !e.blockedUntil.After(now) {
			delete(l.entries, k)
		}
	}
	l.swept = now
}

// Len reports how many (email, ip) pairs are tracked.
func (l *Memory) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
