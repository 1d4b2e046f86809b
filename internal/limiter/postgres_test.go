package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newPG(t *testing.T) (*PG, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	l := NewPG(mock, 5*time.Minute, 3, 10*time.Minute)
	l.now = func() time.Time { return t0 }
	return l, mock
}

func TestPGAllow(t *testing.T) {
	ip := HashIP("10.0.0.1")
	cases := []struct {
		name  string
		setup func(e *pgxmock.ExpectedQuery)
		ok    bool
		wait  time.Duration
		err   bool
	}{
		{"no row", func(e *pgxmock.ExpectedQuery) { e.WillReturnError(pgx.ErrNoRows) }, true, 0, false},
		{"blocked", func(e *pgxmock.ExpectedQuery) {
			e.WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(t0.Add(7 * time.Minute)))
		}, false, 7 * time.Minute, false},
		{"expired block", func(e *pgxmock.ExpectedQuery) {
			e.WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(t0.Add(-time.Second)))
		}, true, 0, false},
		{"db error", func(e *pgxmock.ExpectedQuery) { e.WillReturnError(errors.New("conn reset")) }, false, 0, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			l, mock := newPG(t)
			c.setup(mock.ExpectQuery(`SELECT blocked_until FROM auth_limiter`).WithArgs("alice@x", ip))

			ok, wait, err := l.Allow(context.Background(), "alice@x", ip)
			if c.err {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, c.ok, ok)
			require.Equal(t, c.wait, wait)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPGSuccessResets(t *testing.T) {
	l, mock := newPG(t)
	ip := HashIP("10.0.0.1")
	mock.ExpectExec(`INSERT INTO auth_limiter .* DO UPDATE SET fail_count = 0`).
		WithArgs("alice@x", ip, t0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, l.Success(context.Background(), "alice@x", ip))
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec(`INSERT INTO auth_limiter`).
		WithArgs("alice@x", ip, t0).
		WillReturnError(errors.New("exec fail"))
	require.ErrorContains(t, l.Success(context.Background(), "alice@x", ip), "exec fail")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGFailure(t *testing.T) {
	ip := HashIP("10.0.0.1")
	rows := func(fails int, until time.Time) *pgxmock.Rows {
		return pgxmock.NewRows([]string{"fail_count", "blocked_until"}).AddRow(fails, until)
	}

	t.Run("below threshold", func(t *testing.T) {
		l, mock := newPG(t)
		mock.ExpectQuery(`INSERT INTO auth_limiter AS l .* RETURNING fail_count, blocked_until`).
			WithArgs("alice@x", ip, t0, 3, 10*time.Minute, 5*time.Minute).
			WillReturnRows(rows(2, time.Unix(0, 0)))

		blocked, wait, err := l.Failure(context.Background(), "alice@x", ip)
		require.NoError(t, err)
		require.False(t, blocked)
		require.Zero(t, wait)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reaches threshold", func(t *testing.T) {
		l, mock := newPG(t)
		mock.ExpectQuery(`INSERT INTO auth_limiter AS l`).
			WithArgs("alice@x", ip, t0, 3, 10*time.Minute, 5*time.Minute).
			WillReturnRows(rows(3, t0.Add(10*time.Minute)))

		blocked, wait, err := l.Failure(context.Background(), "alice@x", ip)
		require.NoError(t, err)
		require.True(t, blocked)
		require.Equal(t, 10*time.Minute, wait)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		l, mock := newPG(t)
		mock.ExpectQuery(`INSERT INTO auth_limiter AS l`).
			WithArgs("alice@x", ip, t0, 3, 10*time.Minute, 5*time.Minute).
			WillReturnError(errors.New("boom"))

		_, _, err := l.Failure(context.Background(), "alice@x", ip)
		require.ErrorContains(t, err, "limiter failure: boom")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
