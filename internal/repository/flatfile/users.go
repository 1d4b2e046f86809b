package flatfile

import (
	"context"

	"github.com/and161185/p2p-share/internal/model"
	"go.uber.org/zap"
)

const usersHeader = "email|username|password"

// Users implements repository.UserTable on a text file.
type Users struct {
	path string
	log  *zap.Logger
}

// NewUsers returns the users table stored at path.
func NewUsers(path string, log *zap.Logger) *Users {
	return &Users{path: path, log: log}
}

// LoadUsers reads every well-formed row.
func (t *Users) LoadUsers(_ context.Context) ([]model.User, error) {
	rows, err := readRows(t.path, 3, func(line int, _ string) {
		t.log.Warn("skip malformed user row", zap.String("file", t.path), zap.Int("line", line))
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(rows))
	for _, r := range rows {
		if r[0] == "" {
			continue
		}
		out = append(out, model.User{Email: r[0], DisplayName: r[1], Secret: r[2]})
	}
	return out, nil
}

// SaveUsers rewrites the file with users.
func (t *Users) SaveUsers(ctx context.Context, users []model.User) error {
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		rows = append(rows, []string{u.Email, u.DisplayName, u.Secret})
	}
	return writeRows(ctx, t.path, usersHeader, rows)
}
