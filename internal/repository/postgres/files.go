package postgres

import (
	"context"
	"fmt"

	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/model"
	"github.com/jackc/pgx/v5"
)

// Files implements repository.FileTable using PostgreSQL.
type Files struct{ db *DB }

// NewFiles constructs the shared files table.
func NewFiles(db *DB) *Files { return &Files{db: db} }

// LoadFiles selects every announcement.
func (r *Files) LoadFiles(ctx context.Context) ([]model.PublishedFile, error) {
	const q = `
SELECT filename, filehash, email, filesize, chunksize
FROM shared_files ORDER BY filehash, email`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PublishedFile
	for rows.Next() {
		var f model.PublishedFile
		if err := rows.Scan(&f.Filename, &f.Hash, &f.OwnerEmail, &f.Size, &f.ChunkSize); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SaveFiles replaces the table contents with files in one transaction.
func (r *Files) SaveFiles(ctx context.Context, files []model.PublishedFile) error {
	const del = `DELETE FROM shared_files`
	const ins = `
INSERT INTO shared_files (filename, filehash, email, filesize, chunksize)
VALUES ($1, $2, $3, $4, $5)`
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, del); err != nil {
			return err
		}
		for _, f := range files {
			_, err := tx.Exec(ctx, ins, f.Filename, f.Hash, f.OwnerEmail, f.Size, f.ChunkSize)
			switch {
			case err == nil:
			case isForeignKeyViolation(err):
				return fmt.Errorf("file %s owner %s: %w", f.Hash, f.OwnerEmail, errs.ErrNotFound)
			case isUniqueViolation(err):
				return fmt.Errorf("file %s owner %s: %w", f.Hash, f.OwnerEmail, errs.ErrAlreadyExists)
			default:
				return err
			}
		}
		return nil
	})
}
