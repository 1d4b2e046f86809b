// Package directory implements the directory protocol server: one worker per
// client connection, strictly alternating request and response.
package directory

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/p2p-share/internal/errs"
	"github.com/and161185/p2p-share/internal/service"
	"github.com/and161185/p2p-share/internal/wire"
)

// DefaultIdleTimeout closes connections that send nothing for this long.
const DefaultIdleTimeout = 300 * time.Second

// writeTimeout bounds sending one response.
const writeTimeout = 30 * time.Second

// Presence drops the peer endpoint of a client whose connection ended,
// unless a later login has replaced it.
type Presence interface {
	RemoveConnectedPeer(email, token string) bool
}

// Server dispatches directory requests to the services.
type Server struct {
	auth     service.AuthService
	files    service.FileService
	presence Presence
	log      *zap.Logger
	idle     time.Duration
	handle   Handler

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// New constructs a Server. idle <= 0 selects DefaultIdleTimeout.
func New(auth service.AuthService, files service.FileService, presence Presence, log *zap.Logger, idle time.Duration) *Server {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	s := &Server{
		auth:     auth,
		files:    files,
		presence: presence,
		log:      log,
		idle:     idle,
		conns:    make(map[net.Conn]struct{}),
	}
	s.handle = chain(s.dispatch, Recover(log), Logging(log))
	return s
}

// Serve accepts connections on ln until ctx is cancelled. On return the
// listener and every open connection are closed and all workers have exited.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.closeAll()
	})
	defer stop()
	defer s.wg.Wait()

	s.log.Info("directory listening", zap.String("addr", ln.Addr().String()))
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				delay = min(max(delay*2, 5*time.Millisecond), time.Second)
				s.log.Warn("accept", zap.Error(err), zap.Duration("retry_in", delay))
				time.Sleep(delay)
				continue
			}
			s.closeAll()
			return err
		}
		delay = 0

		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	if s.conns != nil {
		delete(s.conns, c)
	}
	s.mu.Unlock()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for c := range conns {
		_ = c.Close()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	st := newConnState(conn.RemoteAddr())
	ctx = withConn(ctx, st)
	log := s.log.With(zap.String("peer", st.remote))
	log.Debug("client connected")

	defer func() {
		_ = conn.Close()
		if st.email != "" && s.presence.RemoveConnectedPeer(st.email, st.token) {
			log.Info("presence dropped", zap.String("email", st.email))
		}
		log.Debug("client disconnected")
	}()

	for {
		resp, closeAfter, err := s.next(ctx, conn)
		if err != nil {
			logReadError(log, err)
			return
		}
		if resp != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wire.Write(conn, resp); err != nil {
				log.Info("write response", zap.Error(err))
				return
			}
		}
		if closeAfter {
			return
		}
	}
}

// next reads one request and produces its response.
func (s *Server) next(ctx context.Context, conn net.Conn) (wire.Message, bool, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.idle))
	h, err := wire.ReadHeader(conn)
	if err != nil {
		return nil, false, err
	}
	req, ok := wire.NewRequest(h.Command)
	if !ok {
		return nil, false, errUnknownCommand{h.Command}
	}
	// The header arrived; the rest of a fixed-size record must follow promptly.
	_ = conn.SetReadDeadline(time.Now().Add(min(s.idle, writeTimeout)))
	if err := wire.ReadBody(conn, h, req); err != nil {
		if errors.Is(err, errs.ErrInvalidInput) {
			// Record fully consumed; the stream is still in sync.
			return errorResponse(h, wire.StatusInvalidInput), false, nil
		}
		return nil, false, err
	}

	resp, err := s.handle(ctx, req)
	if err != nil {
		return nil, false, err
	}
	return resp, h.Command == wire.CmdLogout, nil
}

type errUnknownCommand struct{ cmd wire.Command }

func (e errUnknownCommand) Error() string { return "unknown command " + e.cmd.String() }

func logReadError(log *zap.Logger, err error) {
	var ne net.Error
	var uc errUnknownCommand
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return
	case errors.As(err, &ne) && ne.Timeout():
		log.Info("idle timeout, closing")
	case errors.As(err, &uc):
		log.Warn("protocol error", zap.Error(err))
	default:
		log.Info("connection error", zap.Error(err))
	}
}
