// Package repository defines storage interfaces implemented by concrete backends.
//
// The directory keeps its tables in memory and hands a full snapshot of the
// affected table to the backend after every mutation, so the interfaces are
// whole-table load/save pairs rather than per-row CRUD.
package repository

import (
	"context"

	"github.com/and161185/p2p-share/internal/model"
)

// UserTable persists registered accounts.
type UserTable interface {
	// LoadUsers returns every stored user. A missing table is empty, not an error.
	LoadUsers(ctx context.Context) ([]model.User, error)
	// SaveUsers stores the full set of users.
	SaveUsers(ctx context.Context, users []model.User) error
}

// FileTable persists published file announcements.
type FileTable interface {
	// LoadFiles returns every stored announcement.
	LoadFiles(ctx context.Context) ([]model.PublishedFile, error)
	// SaveFiles replaces the stored announcements with files.
	SaveFiles(ctx context.Context, files []model.PublishedFile) error
}
