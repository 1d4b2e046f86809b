package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/model"
	"github.com/and161185/p2p-share/internal/repository"
)

type fileKey struct {
	hash  string
	owner string
}

// fileRow remembers publication order so listings are stable.
type fileRow struct {
	model.PublishedFile
	seq uint64
}

type fileTable struct {
	mu      sync.RWMutex
	byKey   map[fileKey]fileRow
	seq     uint64
	persist repository.FileTable
}

// ordered must be called with mu held.
func (t *fileTable) ordered() []fileRow {
	rows := make([]fileRow, 0, len(t.byKey))
	for _, r := range t.byKey {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	return rows
}

// snapshot must be called with mu held.
func (t *fileTable) snapshot() []model.PublishedFile {
	rows := t.ordered()
	out := make([]model.PublishedFile, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.PublishedFile)
	}
	return out
}

// PublishFile inserts or updates the (hash, owner) announcement.
func (s *Store) PublishFile(ctx context.Context, f model.PublishedFile) error {
	if !s.userExists(f.OwnerEmail) {
		return fmt.Errorf("owner %s: %w", f.OwnerEmail, errs.ErrNotFound)
	}

	t := &s.files
	t.mu.Lock()
	defer t.mu.Unlock()

	k := fileKey{hash: f.Hash, owner: f.OwnerEmail}
	prev, existed := t.byKey[k]
	row := fileRow{PublishedFile: f, seq: prev.seq}
	if !existed {
		t.seq++
		row.seq = t.seq
	}
	t.byKey[k] = row

	if err := t.persist.SaveFiles(ctx, t.snapshot()); err != nil {
		if existed {
			t.byKey[k] = prev
		} else {
			delete(t.byKey, k)
		}
		return fmt.Errorf("save files: %w", err)
	}
	return nil
}

// UnpublishFile removes the caller's own announcement of hash.
// It reports false when owner has none.
func (s *Store) UnpublishFile(ctx context.Context, hash, owner string) (bool, error) {
	t := &s.files
	t.mu.Lock()
	defer t.mu.Unlock()

	k := fileKey{hash: hash, owner: owner}
	prev, ok := t.byKey[k]
	if !ok {
		return false, nil
	}
	delete(t.byKey, k)
	if err := t.persist.SaveFiles(ctx, t.snapshot()); err != nil {
		t.byKey[k] = prev
		return false, fmt.Errorf("save files: %w", err)
	}
	return true, nil
}

// IsOwner reports whether email has published hash.
func (s *Store) IsOwner(hash, email string) bool {
	s.files.mu.RLock()
	defer s.files.mu.RUnlock()

	_, ok := s.files.byKey[fileKey{hash: hash, owner: email}]
	return ok
}

// SearchFiles returns files whose name contains keyword, one row per hash.
// An empty keyword matches every file.
func (s *Store) SearchFiles(keyword string) []model.FileSummary {
	return s.summaries(func(f *model.PublishedFile) bool {
		return strings.Contains(f.Filename, keyword)
	})
}

// BrowseAll returns every published file, one row per hash.
func (s *Store) BrowseAll() []model.FileSummary {
	return s.summaries(func(*model.PublishedFile) bool { return true })
}

func (s *Store) summaries(match func(*model.PublishedFile) bool) []model.FileSummary {
	s.files.mu.RLock()
	rows := s.files.ordered()
	s.files.mu.RUnlock()

	seen := make(map[string]struct{})
	out := make([]model.FileSummary, 0)
	for i := range rows {
		f := &rows[i].PublishedFile
		if !match(f) {
			continue
		}
		if _, dup := seen[f.Hash]; dup {
			continue
		}
		seen[f.Hash] = struct{}{}
		out = append(out, model.FileSummary{
			Filename:  f.Filename,
			Hash:      f.Hash,
			Size:      f.Size,
			ChunkSize: f.ChunkSize,
		})
		if len(out) == MaxSearchResults {
			break
		}
	}
	return out
}

// owners returns the emails that published hash.
func (s *Store) owners(hash string) []string {
	s.files.mu.RLock()
	defer s.files.mu.RUnlock()

	var out []string
	for k := range s.files.byKey {
		if k.hash == hash {
			out = append(out, k.owner)
		}
	}
	sort.Strings(out)
	return out
}
