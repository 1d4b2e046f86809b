package directory

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/p2p-share/internal/wire"
)

// Handler serves one decoded request. A non-nil error means the connection
// must be closed; service failures are carried in the response status.
type Handler func(ctx context.Context, req wire.Message) (wire.Message, error)

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

func chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Logging logs every request once, after it was handled. Request fields
// are never logged: they carry passwords and tokens.
func Logging(log *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req wire.Message) (wire.Message, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			var remote string
			if st, ok := connFromCtx(ctx); ok {
				remote = st.remote
			}
			fields := []zap.Field{
				zap.Stringer("cmd", req.Hdr().Command),
				zap.Uint32("req_id", req.Hdr().RequestID),
				zap.Duration("dur", time.Since(start)),
				zap.String("peer", remote),
			}
			if resp != nil {
				fields = append(fields, zap.Stringer("status", responseStatus(resp)))
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
			}
			log.Info("request", fields...)
			return resp, err
		}
	}
}

// Recover turns a panic inside a handler into an error that closes the connection.
func Recover(log *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req wire.Message) (resp wire.Message, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic",
						zap.Any("reason", r),
						zap.ByteString("stack", debug.Stack()),
						zap.Stringer("cmd", req.Hdr().Command),
					)
					resp, err = nil, fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func responseStatus(m wire.Message) wire.Status {
	switch r := m.(type) {
	case *wire.StatusResponse:
		return r.Status
	case *wire.LoginResponse:
		return r.Status
	case *wire.FileListResponse:
		return r.Status
	case *wire.FindPeersResponse:
		return r.Status
	}
	return wire.StatusFail
}

// errorResponse builds the response record of cmd carrying only a status.
func errorResponse(h wire.Header, status wire.Status) wire.Message {
	hdr := wire.Header{Command: h.Command, RequestID: h.RequestID}
	switch h.Command {
	case wire.CmdLogin:
		return &wire.LoginResponse{Header: hdr, Status: status}
	case wire.CmdSearch, wire.CmdBrowse:
		return &wire.FileListResponse{Header: hdr, Status: status}
	case wire.CmdFindPeers:
		return &wire.FindPeersResponse{Header: hdr, Status: status}
	default:
		return &wire.StatusResponse{Header: hdr, Status: status}
	}
}
