package postgres

import (
	"context"
	"fmt"

	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/model"
	"github.com/jackc/pgx/v5"
)

// Users implements repository.UserTable using PostgreSQL.
type Users struct{ db *DB }

// NewUsers constructs the users table.
func NewUsers(db *DB) *Users { return &Users{db: db} }

// LoadUsers selects every account.
func (r *Users) LoadUsers(ctx context.Context) ([]model.User, error) {
	const q = `SELECT email, username, password FROM users ORDER BY email`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.Email, &u.DisplayName, &u.Secret); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SaveUsers upserts every account in one transaction.
// Accounts are never deleted, so rows missing from users are left alone.
func (r *Users) SaveUsers(ctx context.Context, users []model.User) error {
	const ins = `
INSERT INTO users (email, username, password)
VALUES ($1, $2, $3)
ON CONFLICT (email) DO UPDATE SET username = EXCLUDED.username, password = EXCLUDED.password`
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		for _, u := range users {
			if _, err := tx.Exec(ctx, ins, u.Email, u.DisplayName, u.Secret); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("user %s: %w", u.Email, errs.ErrAlreadyExists)
				}
				return fmt.Errorf("user %s: %w", u.Email, err)
			}
		}
		return nil
	})
}
