// Package p2p is the peer transfer engine: a listener that serves chunks of
// local files and a downloader that assembles a file from one or more peers.
package p2p

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/localfs"
)

// Content is something a listener can serve by chunk.
type Content interface {
	ReadAt(p []byte, off int64) (int, error)
	Close() error
	Size() int64
	// Has reports whether chunk index is available locally.
	Has(index int) bool
}

// Catalog resolves a content hash to local content.
type Catalog interface {
	// Open returns errs.ErrNotFound when hash is not shared here.
	Open(ctx context.Context, hash string) (Content, error)
}

// SharedFile is one hashed file of the shared directory.
type SharedFile struct {
	Path string
	Hash string
	Size int64
}

type cacheEntry struct {
	size  int64
	mtime time.Time
	hash  string
}

// DirCatalog serves complete files from a shared directory. Digests are
// cached per path and recomputed only when size or mtime change.
type DirCatalog struct {
	dir  string
	log  *zap.Logger
	hash func(path string) (string, error)

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewDirCatalog returns a catalog over dir.
func NewDirCatalog(dir string, log *zap.Logger) *DirCatalog {
	return &DirCatalog{dir: dir, log: log, hash: localfs.HashFile, cache: make(map[string]cacheEntry)}
}

// Dir is the shared directory.
func (c *DirCatalog) Dir() string { return c.dir }

// Stat hashes the file at path, reusing the cached digest when the file is unchanged.
func (c *DirCatalog) Stat(path string) (SharedFile, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return SharedFile{}, err
	}
	if !fi.Mode().IsRegular() {
		return SharedFile{}, fmt.Errorf("%w: %s is not a regular file", errs.ErrInvalidInput, path)
	}

	c.mu.Lock()
	e, ok := c.cache[path]
	c.mu.Unlock()
	if ok && e.size == fi.Size() && e.mtime.Equal(fi.ModTime()) {
		return SharedFile{Path: path, Hash: e.hash, Size: e.size}, nil
	}

	h, err := c.hash(path)
	if err != nil {
		return SharedFile{}, err
	}
	c.mu.Lock()
	c.cache[path] = cacheEntry{size: fi.Size(), mtime: fi.ModTime(), hash: h}
	c.mu.Unlock()
	return SharedFile{Path: path, Hash: h, Size: fi.Size()}, nil
}

// List hashes every file in the shared directory. Unreadable files are skipped.
func (c *DirCatalog) List(ctx context.Context) ([]SharedFile, error) {
	paths, err := localfs.ListSharedDirectory(c.dir)
	if err != nil {
		return nil, err
	}
	out := make([]SharedFile, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := c.Stat(p)
		if err != nil {
			c.log.Warn("skip shared file", zap.String("path", p), zap.Error(err))
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// Open finds the first shared file whose digest is hash.
func (c *DirCatalog) Open(ctx context.Context, hash string) (Content, error) {
	files, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if f.Hash != hash {
			continue
		}
		fh, err := os.Open(f.Path)
		if err != nil {
			return nil, err
		}
		return &fileContent{File: fh, size: f.Size}, nil
	}
	return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, hash)
}

type fileContent struct {
	*os.File
	size int64
}

func (f *fileContent) Size() int64 { return f.size }
func (f *fileContent) Has(int) bool { return true }
