package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newMemory(t *testing.T, maxFails int) (*Memory, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := NewMemory(5*time.Minute, maxFails, 10*time.Minute)
	l.now = clk.now
	return l, clk
}

func TestMemory_BlocksAtThreshold(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, clk := newMemory(t, 3)
	ip := HashIP("10.0.0.1")

	for i := 0; i < 2; i++ {
		blocked, _, err := l.Failure(ctx, "alice@x", ip)
		require.NoError(t, err)
		require.False(t, blocked)
	}
	blocked, dur, err := l.Failure(ctx, "alice@x", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 10*time.Minute, dur)

	ok, retry, err := l.Allow(ctx, "alice@x", ip)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 10*time.Minute, retry)

	// other source address is unaffected
	ok, _, _ = l.Allow(ctx, "alice@x", HashIP("10.0.0.2"))
	require.True(t, ok)

	clk.t = clk.t.Add(11 * time.Minute)
	ok, _, _ = l.Allow(ctx, "alice@x", ip)
	require.True(t, ok)
}

func TestMemory_WindowResets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, clk := newMemory(t, 2)
	ip := HashIP("10.0.0.1")

	_, _, _ = l.Failure(ctx, "bob@x", ip)
	clk.t = clk.t.Add(6 * time.Minute)
	blocked, _, err := l.Failure(ctx, "bob@x", ip)
	require.NoError(t, err)
	require.False(t, blocked, "failure outside the window starts a new count")
}

func TestMemory_SuccessClears(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newMemory(t, 2)
	ip := HashIP("10.0.0.1")

	_, _, _ = l.Failure(ctx, "carol@x", ip)
	require.NoError(t, l.Success(ctx, "carol@x", ip))
	blocked, _, _ := l.Failure(ctx, "carol@x", ip)
	require.False(t, blocked)
}

func TestMemory_StaleEntriesSwept(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, clk := newMemory(t, 2)

	// dave gets blocked; the others fail once and go quiet.
	for i := 0; i < 2; i++ {
		_, _, _ = l.Failure(ctx, "dave@x", HashIP("10.0.0.9"))
	}
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		_, _, _ = l.Failure(ctx, "nobody@x", HashIP(ip))
	}
	require.Equal(t, 4, l.Len())

	// Past the window but inside dave's block: only the quiet entries go.
	clk.t = clk.t.Add(6 * time.Minute)
	_, _, _ = l.Failure(ctx, "erin@x", HashIP("10.0.0.5"))
	require.Equal(t, 2, l.Len())
	ok, _, _ := l.Allow(ctx, "dave@x", HashIP("10.0.0.9"))
	require.False(t, ok, "an active block survives the sweep")

	// After the block ends a later sweep drops dave and erin too.
	clk.t = clk.t.Add(11 * time.Minute)
	_, _, _ = l.Failure(ctx, "frank@x", HashIP("10.0.0.6"))
	require.Equal(t, 1, l.Len())
}
