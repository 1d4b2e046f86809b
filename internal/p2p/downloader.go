package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/localfs"
	"github.com/and161185/p2p-share/internal/model"
	"github.com/and161185/p2p-share/internal/wire"
)

// Downloader defaults.
const (
	DefaultDialTimeout     = 5 * time.Second
	DefaultIOTimeout       = 10 * time.Second
	DefaultConnectAttempts = 3
	DefaultRetryDelay      = 200 * time.Millisecond
)

// reportTimeout bounds the status report, which outlives the caller's context.
const reportTimeout = 5 * time.Second

// Directory is the part of the directory client a download needs.
type Directory interface {
	FindPeers(ctx context.Context, hash string) ([]model.PeerEndpoint, error)
	ReportDownload(ctx context.Context, hash string, success bool) error
}

// Result describes a completed download.
type Result struct {
	Path   string
	Chunks int
	// Peers is how many peers delivered at least one chunk.
	Peers int
}

// Downloader pulls files from peers.
type Downloader struct {
	dir         Directory
	destDir     string
	dialTimeout time.Duration
	ioTimeout   time.Duration
	attempts    int
	retryDelay  time.Duration
	log         *zap.Logger
}

// DownloaderOption customizes a Downloader.
type DownloaderOption func(*Downloader)

// WithDialTimeout bounds each connect attempt.
func WithDialTimeout(d time.Duration) DownloaderOption {
	return func(dl *Downloader) {
		if d > 0 {
			dl.dialTimeout = d
		}
	}
}

// WithIOTimeout bounds each read or write on a peer connection.
func WithIOTimeout(d time.Duration) DownloaderOption {
	return func(dl *Downloader) {
		if d > 0 {
			dl.ioTimeout = d
		}
	}
}

// WithConnectAttempts sets how many times a peer is dialed before moving on.
func WithConnectAttempts(n int, delay time.Duration) DownloaderOption {
	return func(dl *Downloader) {
		if n > 0 {
			dl.attempts = n
		}
		if delay > 0 {
			dl.retryDelay = delay
		}
	}
}

// NewDownloader writes completed files into destDir.
func NewDownloader(dir Directory, destDir string, log *zap.Logger, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		dir:         dir,
		destDir:     destDir,
		dialTimeout: DefaultDialTimeout,
		ioTimeout:   DefaultIOTimeout,
		attempts:    DefaultConnectAttempts,
		retryDelay:  DefaultRetryDelay,
		log:         log,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// transfer is the state of one download attempt.
type transfer struct {
	file  model.FileSummary
	total int
	buf   []byte
	have  []bool
	got   int
}

func (t *transfer) done() bool { return t.got == t.total }

// Download fetches f from the peers the directory lists for its hash and
// writes it to the destination directory. Exactly one status report is sent
// to the directory, whatever the outcome.
func (d *Downloader) Download(ctx context.Context, f model.FileSummary) (Result, error) {
	res, err := d.download(ctx, f)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if rerr := d.dir.ReportDownload(rctx, f.Hash, err == nil); rerr != nil {
		d.log.Warn("report download status", zap.String("hash", f.Hash), zap.Error(rerr))
	}
	return res, err
}

func (d *Downloader) download(ctx context.Context, f model.FileSummary) (Result, error) {
	dest, err := localfs.SafeJoin(d.destDir, f.Filename)
	if err != nil {
		return Result{}, err
	}
	if f.Size < 0 || f.ChunkSize <= 0 {
		return Result{}, fmt.Errorf("%w: size %d chunk size %d", errs.ErrInvalidInput, f.Size, f.ChunkSize)
	}
	total := f.TotalChunks()
	if total > wire.MaxBitmapSize {
		return Result{}, fmt.Errorf("%w: %d chunks exceed %d", errs.ErrInvalidInput, total, wire.MaxBitmapSize)
	}

	peers, err := d.dir.FindPeers(ctx, f.Hash)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return Result{}, fmt.Errorf("find peers: %w", err)
	}
	if len(peers) == 0 {
		return Result{}, errs.ErrNoPeers
	}

	t := &transfer{file: f, total: total, buf: make([]byte, f.Size), have: make([]bool, total)}
	log := d.log.With(zap.String("hash", f.Hash), zap.String("file", f.Filename))
	used := 0
	for _, p := range peers {
		if t.done() {
			break
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		n, err := d.fromPeer(ctx, p, t)
		if n > 0 {
			used++
		}
		if err != nil {
			log.Info("peer failed", zap.String("peer", p.Addr()), zap.Int("chunks", n), zap.Error(err))
			continue
		}
		log.Debug("peer done", zap.String("peer", p.Addr()), zap.Int("chunks", n))
	}
	if !t.done() {
		return Result{}, fmt.Errorf("%w: %d of %d chunks from %d peers", errs.ErrIncomplete, t.got, total, len(peers))
	}

	if err := localfs.WriteFileAtomic(dest, t.buf); err != nil {
		return Result{}, fmt.Errorf("write %s: %w", dest, err)
	}
	log.Info("download complete", zap.String("path", dest), zap.Int("chunks", total), zap.Int("peers", used))
	return Result{Path: dest, Chunks: total, Peers: used}, nil
}

// connect dials addr with a bounded number of attempts.
func (d *Downloader) connect(ctx context.Context, addr string) (net.Conn, error) {
	var conn net.Conn
	b := retry.WithMaxRetries(uint64(d.attempts-1), retry.NewConstant(d.retryDelay))
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		dctx, cancel := context.WithTimeout(ctx, d.dialTimeout)
		defer cancel()
		var dialer net.Dialer
		c, err := dialer.DialContext(dctx, "tcp", addr)
		if err != nil {
			d.log.Debug("connect retry", zap.String("peer", addr), zap.Int("attempt", attempt), zap.Error(err))
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	return conn, err
}

// fromPeer fetches every chunk t still lacks and p advertises. It returns
// the number of chunks received from p.
func (d *Downloader) fromPeer(ctx context.Context, p model.PeerEndpoint, t *transfer) (int, error) {
	conn, err := d.connect(ctx, p.Addr())
	if err != nil {
		return 0, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	var reqID uint32
	deadline := func() { _ = conn.SetDeadline(time.Now().Add(d.ioTimeout)) }
	defer func() {
		reqID++
		deadline()
		_ = wire.Write(conn, &wire.Disconnect{Header: wire.Header{Command: wire.CmdDisconnect, RequestID: reqID}})
		_ = conn.Close()
	}()

	reqID++
	deadline()
	if err := wire.Write(conn, &wire.HandshakeRequest{
		Header: wire.Header{Command: wire.CmdHandshake, RequestID: reqID},
		Hash:   t.file.Hash,
	}); err != nil {
		return 0, err
	}
	var hs wire.HandshakeResponse
	if err := wire.Read(conn, wire.CmdHandshakeResult, &hs); err != nil {
		return 0, err
	}
	if hs.Status != wire.HandshakeOk {
		return 0, fmt.Errorf("handshake refused (status %d)", hs.Status)
	}

	bh, bitmap, err := wire.ReadBitmap(conn)
	if err != nil {
		return 0, err
	}
	if int(bh.TotalChunks) != t.total || len(bitmap) != t.total {
		return 0, fmt.Errorf("%w: peer advertises %d chunks, want %d", errs.ErrProtocol, bh.TotalChunks, t.total)
	}

	cs := int64(t.file.ChunkSize)
	got := 0
	for i := 0; i < t.total; i++ {
		if t.have[i] || bitmap[i] == 0 {
			continue
		}
		reqID++
		deadline()
		if err := wire.Write(conn, &wire.ChunkRequest{
			Header: wire.Header{Command: wire.CmdChunkRequest, RequestID: reqID},
			Index:  int32(i),
		}); err != nil {
			return got, err
		}

		want := chunkLen(t.file.Size, t.file.ChunkSize, i)
		ch, payload, err := wire.ReadChunk(conn, want)
		if err != nil {
			return got, fmt.Errorf("chunk %d: %w", i, err)
		}
		if int(ch.Index) != i || len(payload) != want {
			return got, fmt.Errorf("%w: chunk %d answered as %d with %d bytes, want %d", errs.ErrProtocol, i, ch.Index, len(payload), want)
		}
		copy(t.buf[int64(i)*cs:], payload)
		t.have[i] = true
		t.got++
		got++
	}
	return got, nil
}
