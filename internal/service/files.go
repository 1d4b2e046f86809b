package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/model"
	"github.com/and161185/p2p-share/internal/wire"
)

// Catalog is the part of the directory store used by FileServiceImpl.
type Catalog interface {
	PublishFile(ctx context.Context, f model.PublishedFile) error
	UnpublishFile(ctx context.Context, hash, owner string) (bool, error)
	SearchFiles(keyword string) []model.FileSummary
	BrowseAll() []model.FileSummary
	FindPeers(hash string) []model.PeerEndpoint
}

// FileService defines operations over published files.
// List operations return errs.ErrNotFound together with an empty result.
type FileService interface {
	Publish(ctx context.Context, owner string, f model.FileSummary) error
	Unpublish(ctx context.Context, owner, hash string) error
	Search(ctx context.Context, keyword string) ([]model.FileSummary, error)
	Browse(ctx context.Context) ([]model.FileSummary, error)
	FindPeers(ctx context.Context, hash string) ([]model.PeerEndpoint, error)
	ReportDownload(ctx context.Context, email, hash string, success bool) error
}

// DownloadStats counts reported download outcomes for one hash.
type DownloadStats struct {
	Succeeded int
	Failed    int
}

type FileServiceImpl struct {
	store Catalog
	log   *zap.Logger

	mu    sync.Mutex
	stats map[string]DownloadStats
}

// NewFileService constructs FileService.
func NewFileService(store Catalog, log *zap.Logger) *FileServiceImpl {
	return &FileServiceImpl{store: store, log: log, stats: make(map[string]DownloadStats)}
}

// Publish validates the announcement and upserts it for owner.
// Validation rules:
// - filename per ValidateFilename
// - hash per ValidateHash
// - size >= 0
// - 0 < chunkSize <= MaxChunkSize
func (s *FileServiceImpl) Publish(ctx context.Context, owner string, f model.FileSummary) error {
	if err := ValidateFilename(f.Filename); err != nil {
		return err
	}
	if err := ValidateHash(f.Hash); err != nil {
		return err
	}
	if f.Size < 0 {
		return invalid("negative size")
	}
	if f.ChunkSize <= 0 || f.ChunkSize > MaxChunkSize {
		return invalid("chunk size %d out of range", f.ChunkSize)
	}
	return s.store.PublishFile(ctx, model.PublishedFile{
		Filename:   f.Filename,
		Hash:       f.Hash,
		OwnerEmail: owner,
		Size:       f.Size,
		ChunkSize:  f.ChunkSize,
	})
}

// Unpublish removes owner's announcement of hash.
func (s *FileServiceImpl) Unpublish(ctx context.Context, owner, hash string) error {
	if err := ValidateHash(hash); err != nil {
		return err
	}
	ok, err := s.store.UnpublishFile(ctx, hash, owner)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNotOwner
	}
	return nil
}

// Search matches keyword against file names.
func (s *FileServiceImpl) Search(_ context.Context, keyword string) ([]model.FileSummary, error) {
	if err := wire.CheckString(keyword, wire.FilenameCap); err != nil {
		return nil, err
	}
	return nonEmpty(s.store.SearchFiles(keyword))
}

// Browse lists every published file.
func (s *FileServiceImpl) Browse(context.Context) ([]model.FileSummary, error) {
	return nonEmpty(s.store.BrowseAll())
}

// FindPeers lists online endpoints holding hash.
func (s *FileServiceImpl) FindPeers(_ context.Context, hash string) ([]model.PeerEndpoint, error) {
	if err := ValidateHash(hash); err != nil {
		return nil, err
	}
	return nonEmpty(s.store.FindPeers(hash))
}

// ReportDownload records the outcome of one download attempt.
func (s *FileServiceImpl) ReportDownload(_ context.Context, email, hash string, success bool) error {
	s.mu.Lock()
	st := s.stats[hash]
	if success {
		st.Succeeded++
	} else {
		st.Failed++
	}
	s.stats[hash] = st
	s.mu.Unlock()

	s.log.Info("download reported",
		zap.String("email", email), zap.String("hash", hash), zap.Bool("success", success))
	return nil
}

// Stats returns the reported outcomes for hash.
func (s *FileServiceImpl) Stats(hash string) DownloadStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats[hash]
}

func nonEmpty[T any](xs []T) ([]T, error) {
	if len(xs) == 0 {
		return xs, errs.ErrNotFound
	}
	return xs, nil
}
