package grpcapi

import (
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewServer builds a gRPC server carrying the grid service and the standard
// health service, with request IDs, tracing and RPC metrics on every call.
// rpcMetrics may be nil.
func NewServer(svc GridServer, log logging.Logger, rpcMetrics *observability.RPCCollector, extra ...grpc.ServerOption) *grpc.Server {
	if log == nil {
		log = logging.Noop()
	}
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(log),
			TracingUnaryServerInterceptor(),
			rpcMetrics.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			RequestIDStreamServerInterceptor(log),
			rpcMetrics.StreamServerInterceptor(),
		),
	}
	server := grpc.NewServer(append(opts, extra...)...)

	RegisterGridServiceServer(server, svc)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)

	return server
}
