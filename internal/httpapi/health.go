package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"maintenix.io/internal/obs"
)

// HealthService publishes core readiness over the standard gRPC health protocol.
// The gateway's readiness probe reads it.
type HealthService struct {
	server    *health.Server
	readiness readinessChecker
	interval  time.Duration
}

// NewHealthService starts in NOT_SERVING until the first probe passes.
func NewHealthService(r readinessChecker, interval time.Duration) *HealthService {
	if r == nil {
		r = ReadyProbe{}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	hs := &HealthService{server: health.NewServer(), readiness: r, interval: interval}
	hs.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

// Register attaches the health service to srv.
func (h *HealthService) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.server)
}

// Probe runs the readiness check once and publishes the result.
func (h *HealthService) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()
	if err := h.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	obs.SetReady(true)
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run probes every interval until ctx is done, then marks the service as shutting down.
func (h *HealthService) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		if err := h.Probe(ctx); err != nil && ctx.Err() == nil {
			obs.Logger().Warn("readiness probe failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (h *HealthService) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(serviceName, status)
}
