package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/model"
	"github.com/and161185/p2p-share/internal/wire"
)

// DefaultChunkSize is the chunk size of files served and published by a peer.
const DefaultChunkSize = 512 * 1024

// DefaultIdleTimeout closes an upload connection that sends no request for this long.
const DefaultIdleTimeout = 60 * time.Second

// Listener serves chunks of catalog content to other peers, one goroutine per connection.
type Listener struct {
	catalog   Catalog
	chunkSize int32
	idle      time.Duration
	limiter   *rate.Limiter
	slots     *semaphore.Weighted
	log       *zap.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// ListenerOption customizes a Listener.
type ListenerOption func(*Listener)

// WithUploadRate caps the total upload bandwidth in bytes per second. 0 means unlimited.
func WithUploadRate(bytesPerSec int) ListenerOption {
	return func(l *Listener) {
		if bytesPerSec > 0 {
			l.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), max(bytesPerSec, int(l.chunkSize)))
		}
	}
}

// WithMaxUploads limits concurrent transfers; extra handshakes are answered Busy.
func WithMaxUploads(n int) ListenerOption {
	return func(l *Listener) {
		if n > 0 {
			l.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithIdleTimeout sets how long a connection may stay silent.
func WithIdleTimeout(d time.Duration) ListenerOption {
	return func(l *Listener) {
		if d > 0 {
			l.idle = d
		}
	}
}

// NewListener constructs a Listener serving chunks of chunkSize bytes.
func NewListener(cat Catalog, chunkSize int32, log *zap.Logger, opts ...ListenerOption) *Listener {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	l := &Listener{
		catalog:   cat,
		chunkSize: chunkSize,
		idle:      DefaultIdleTimeout,
		log:       log,
		conns:     make(map[net.Conn]struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// ChunkSize is the chunk size this listener serves with.
func (l *Listener) ChunkSize() int32 { return l.chunkSize }

// Serve accepts peers on ln until ctx is cancelled, then closes every
// connection and waits for the handlers.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		l.closeAll()
	})
	defer stop()
	defer l.wg.Wait()

	l.log.Info("p2p listening", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			l.closeAll()
			return err
		}
		if !l.track(conn) {
			_ = conn.Close()
			continue
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.untrack(conn)
			defer conn.Close()
			if err := l.serveConn(ctx, conn); err != nil {
				l.log.Info("upload ended", zap.String("peer", conn.RemoteAddr().String()), zap.Error(err))
			}
		}()
	}
}

func (l *Listener) track(c net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conns == nil {
		return false
	}
	l.conns[c] = struct{}{}
	return true
}

func (l *Listener) untrack(c net.Conn) {
	l.mu.Lock()
	if l.conns != nil {
		delete(l.conns, c)
	}
	l.mu.Unlock()
}

func (l *Listener) closeAll() {
	l.mu.Lock()
	conns := l.conns
	l.conns = nil
	l.mu.Unlock()
	for c := range conns {
		_ = c.Close()
	}
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) error {
	_ = conn.SetDeadline(time.Now().Add(l.idle))
	var hs wire.HandshakeRequest
	if err := wire.Read(conn, wire.CmdHandshake, &hs); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	reply := func(st wire.HandshakeStatus) error {
		return wire.Write(conn, &wire.HandshakeResponse{
			Header: wire.Header{Command: wire.CmdHandshakeResult, RequestID: hs.RequestID},
			Status: st,
		})
	}

	if l.slots != nil {
		if !l.slots.TryAcquire(1) {
			return reply(wire.HandshakeBusy)
		}
		defer l.slots.Release(1)
	}

	content, err := l.catalog.Open(ctx, hs.Hash)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			l.log.Warn("open shared content", zap.String("hash", hs.Hash), zap.Error(err))
		}
		return reply(wire.HandshakeNoFile)
	}
	defer content.Close()

	total := model.TotalChunks(content.Size(), l.chunkSize)
	if total > wire.MaxBitmapSize {
		l.log.Warn("file has too many chunks to serve", zap.String("hash", hs.Hash), zap.Int("chunks", total))
		return reply(wire.HandshakeNoFile)
	}
	if err := reply(wire.HandshakeOk); err != nil {
		return err
	}

	bitmap := make([]byte, total)
	for i := range bitmap {
		if content.Has(i) {
			bitmap[i] = 1
		}
	}
	if err := wire.WriteBitmap(conn, hs.RequestID, bitmap); err != nil {
		return err
	}

	log := l.log.With(zap.String("peer", conn.RemoteAddr().String()), zap.String("hash", hs.Hash))
	log.Debug("upload started", zap.Int("chunks", total))
	buf := make([]byte, l.chunkSize)
	sent := 0
	for {
		_ = conn.SetDeadline(time.Now().Add(l.idle))
		h, err := wire.ReadHeader(conn)
		if errors.Is(err, io.EOF) {
			log.Debug("upload finished", zap.Int("sent", sent))
			return nil
		}
		if err != nil {
			return err
		}
		switch h.Command {
		case wire.CmdDisconnect:
			log.Debug("peer disconnected", zap.Int("sent", sent))
			return nil
		case wire.CmdChunkRequest:
		default:
			return fmt.Errorf("%w: unexpected command %s", errs.ErrProtocol, h.Command)
		}

		var req wire.ChunkRequest
		if err := wire.ReadBody(conn, h, &req); err != nil {
			return err
		}
		idx := int(req.Index)
		if idx < 0 || idx >= total || !content.Has(idx) {
			log.Warn("rejected chunk index", zap.Int("index", idx), zap.Int("chunks", total))
			if err := wire.WriteChunk(conn, h.RequestID, req.Index, nil); err != nil {
				return err
			}
			continue
		}

		n := chunkLen(content.Size(), l.chunkSize, idx)
		if m, err := content.ReadAt(buf[:n], int64(idx)*int64(l.chunkSize)); m < n {
			return fmt.Errorf("read chunk %d: got %d of %d bytes: %w", idx, m, n, err)
		}
		if l.limiter != nil {
			if err := l.limiter.WaitN(ctx, n); err != nil {
				return err
			}
		}
		if err := wire.WriteChunk(conn, h.RequestID, req.Index, buf[:n]); err != nil {
			return err
		}
		sent++
	}
}

// chunkLen is the byte length of chunk idx of a size-byte file.
func chunkLen(size int64, chunkSize int32, idx int) int {
	off := int64(idx) * int64(chunkSize)
	return int(min(int64(chunkSize), size-off))
}
