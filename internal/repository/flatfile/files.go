package flatfile

import (
	"context"
	"strconv"

	"github.com/and161185/p2p-share/internal/model"
	"go.uber.org/zap"
)

const filesHeader = "filename|filehash|email|filesize|chunksize"

// Files implements repository.FileTable on a text file.
type Files struct {
	path string
	log  *zap.Logger
}

// NewFiles returns the shared files table stored at path.
func NewFiles(path string, log *zap.Logger) *Files {
	return &Files{path: path, log: log}
}

// LoadFiles reads every well-formed row.
func (t *Files) LoadFiles(_ context.Context) ([]model.PublishedFile, error) {
	rows, err := readRows(t.path, 5, func(line int, _ string) {
		t.log.Warn("skip malformed file row", zap.String("file", t.path), zap.Int("line", line))
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.PublishedFile, 0, len(rows))
	for _, r := range rows {
		size, err1 := strconv.ParseInt(r[3], 10, 64)
		chunk, err2 := strconv.ParseInt(r[4], 10, 32)
		if err1 != nil || err2 != nil || r[1] == "" || r[2] == "" {
			t.log.Warn("skip invalid file row", zap.String("file", t.path), zap.Strings("row", r))
			continue
		}
		out = append(out, model.PublishedFile{
			Filename:   r[0],
			Hash:       r[1],
			OwnerEmail: r[2],
			Size:       size,
			ChunkSize:  int32(chunk),
		})
	}
	return out, nil
}

// SaveFiles rewrites the file with files.
func (t *Files) SaveFiles(ctx context.Context, files []model.PublishedFile) error {
	rows := make([][]string, 0, len(files))
	for _, f := range files {
		rows = append(rows, []string{
			f.Filename,
			f.Hash,
			f.OwnerEmail,
			strconv.FormatInt(f.Size, 10),
			strconv.FormatInt(int64(f.ChunkSize), 10),
		})
	}
	return writeRows(ctx, t.path, filesHeader, rows)
}
