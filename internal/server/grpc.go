package server

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Service names reported by the health server besides the overall "".
const (
	HealthOutbox   = "crates.outbox"
	HealthConsumer = "crates.consumer"
)

// NewGRPCServer creates a gRPC server with standard interceptors and the
// health and reflection services. Every service starts NOT_SERVING; callers
// flip it with the returned health server once their loops are running.
func NewGRPCServer(logger *slog.Logger, authToken string) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger),
			LoggingInterceptor(logger),
			AuthInterceptor(authToken),
		),
	)

	hs := health.NewServer()
	for _, svc := range []string{"", HealthOutbox, HealthConsumer} {
		hs.SetServingStatus(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return srv, hs
}
