package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCHealth mirrors the readiness probe onto the standard gRPC health
// service, both for the overall server ("") and for serviceName.
type GRPCHealth struct {
	srv       *health.Server
	readiness readinessChecker
	logger    *zap.Logger
}

// NewGRPCServer builds a gRPC server exposing only the health service.
func NewGRPCServer(r readinessChecker, logger *zap.Logger, opts ...grpc.ServerOption) (*grpc.Server, *GRPCHealth) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &GRPCHealth{
		srv:       health.NewServer(),
		readiness: r,
		logger:    logger,
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	server := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(server, h.srv)
	return server, h
}

// Refresh runs the readiness check once and publishes the result.
func (h *GRPCHealth) Refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.readiness.Check(ctx); err != nil {
		h.logger.Warn("grpc health: not ready", zap.Error(err))
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
}

// Run refreshes every interval until ctx is done, then marks the server as
// shutting down.
func (h *GRPCHealth) Run(ctx context.Context, interval time.Duration) {
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func (h *GRPCHealth) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}
