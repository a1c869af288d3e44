package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "fulfillment.OrderLedger"

// Prober reports whether a backing dependency is reachable.
type Prober func(ctx context.Context) error

// GRPCHandler exposes the standard gRPC health service. Serving status follows the probes.
type GRPCHandler struct {
	health *health.Server
	probes map[string]Prober
	logger *zap.Logger
}

func NewGRPCHandler(probes map[string]Prober, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{
		health: health.NewServer(),
		probes: probes,
		logger: logger,
	}
}

func (h *GRPCHandler) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.health)
}

// Check runs every probe once and publishes the result for the service and the server as a whole.
func (h *GRPCHandler) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, probe := range h.probes {
		if err := probe(ctx); err != nil {
			h.logger.Warn("health probe failed", zap.String("probe", name), zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	h.health.SetServingStatus(ServiceName, status)
	h.health.SetServingStatus("", status)
	return status
}

// Watch re-runs the probes every interval until ctx is done.
func (h *GRPCHandler) Watch(ctx context.Context, interval time.Duration) {
	h.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Shutdown marks everything NOT_SERVING so clients drain before the listener closes.
func (h *GRPCHandler) Shutdown() {
	h.health.Shutdown()
}
