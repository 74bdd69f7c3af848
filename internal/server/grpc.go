package server

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// BrokerHealthService is the health service name reporting broker state.
const BrokerHealthService = "chatd.broker"

// NewGRPCServer creates a gRPC server with standard interceptors and
// registers the health service and reflection. The returned health server
// reports the overall service as SERVING.
func NewGRPCServer(authToken string) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(authToken),
		),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return srv, hs
}

// WatchBroker mirrors the broker connection state into the health server
// under BrokerHealthService until ctx is done.
func WatchBroker(ctx context.Context, hs *health.Server, b BrokerControl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if b.Connected() {
			st = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(BrokerHealthService, st)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
