package grpcserver

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// LoggingUnary logs every unary call once it returns. Probes succeed often,
// so successful calls go to Debug and failures to Warn.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		logCall(ctx, log, info.FullMethod, start, err)
		return resp, err
	}
}

// LoggingStream logs a streaming call (health Watch) when the stream ends.
func LoggingStream(log *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		start := time.Now()
		err := next(srv, ss)
		logCall(ss.Context(), log, info.FullMethod, start, err)
		return err
	}
}

// RecoverUnary turns a handler panic into codes.Internal.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer recoverTo(log, info.FullMethod, &err)
		return next(ctx, req)
	}
}

// RecoverStream is RecoverUnary for streaming handlers.
func RecoverStream(log *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) (err error) {
		defer recoverTo(log, info.FullMethod, &err)
		return next(srv, ss)
	}
}

func recoverTo(log *zap.Logger, method string, err *error) {
	if r := recover(); r != nil {
		log.Error("panic",
			zap.Any("reason", r),
			zap.ByteString("stack", debug.Stack()),
			zap.String("method", method),
		)
		*err = status.Error(codes.Internal, "internal")
	}
}

func logCall(ctx context.Context, log *zap.Logger, method string, start time.Time, err error) {
	var remote string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		remote = p.Addr.String()
	}
	code := status.Code(err)
	lvl := zap.DebugLevel
	if code != codes.OK && code != codes.Canceled {
		lvl = zap.WarnLevel
	}
	log.Log(lvl, "grpc",
		zap.String("method", method),
		zap.String("code", code.String()),
		zap.Duration("dur", time.Since(start)),
		zap.String("peer", remote),
	)
}
