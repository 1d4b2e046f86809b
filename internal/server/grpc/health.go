// Package grpcserver exposes the directory server's gRPC health endpoint.
package grpcserver

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the directory listener.
const ServiceName = "p2pshare.Directory"

// Health serves grpc.health.v1 for the directory server.
type Health struct {
	srv *grpc.Server
	hs  *health.Server
	log *zap.Logger
}

// NewHealth builds a health server that starts in NOT_SERVING.
func NewHealth(log *zap.Logger) *Health {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	h := &Health{srv: srv, hs: hs, log: log}
	h.SetServing(false)
	return h
}

// SetServing reports the directory listener state.
func (h *Health) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.hs.SetServingStatus(ServiceName, st)
	h.hs.SetServingStatus("", st)
}

// Track reports SERVING while run executes and NOT_SERVING once it returns.
func (h *Health) Track(run func() error) error {
	h.SetServing(true)
	defer h.SetServing(false)
	return run()
}

// Serve runs the gRPC server on ln until ctx is cancelled.
func (h *Health) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		h.hs.Shutdown()
		h.srv.GracefulStop()
	})
	defer stop()

	h.log.Info("health listening", zap.String("addr", ln.Addr().String()))
	if err := h.srv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
