package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"media-enrichment-service/internal/observability/metrics"
)

// healthPrefix covers Check and Watch; orchestrators poll them every few seconds.
var healthPrefix = "/" + grpc_health_v1.Health_ServiceDesc.ServiceName + "/"

// isHealthCheck reports whether method belongs to the gRPC health service.
func isHealthCheck(method string) bool {
	return strings.HasPrefix(method, healthPrefix)
}

// observeCall records a finished call and logs it unless it was a health check.
func observeCall(m *metrics.Metrics, method, kind string, start time.Time, err error) {
	duration := time.Since(start)
	code := status.Code(err).String()
	m.RecordGRPCCall(method, code, duration.Seconds())

	if isHealthCheck(method) && err == nil {
		return
	}
	event := log.Debug()
	if err != nil {
		event = log.Warn().Err(err)
	}
	event.
		Str("method", method).
		Str("kind", kind).
		Str("code", code).
		Dur("duration", duration).
		Msg("gRPC call finished")
}

// UnaryServerInterceptor records call metrics for the health and reflection services.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observeCall(m, info.FullMethod, "unary", start, err)
		return resp, err
	}
}

// StreamServerInterceptor records call metrics for health watches and reflection streams.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observeCall(m, info.FullMethod, "stream", start, err)
		return err
	}
}
