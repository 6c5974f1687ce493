package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/invoice-ingest/internal/common"
	_ "github.com/joseph-ayodele/invoice-ingest/internal/rpc" // registers the JSON codec
)

const requestIDHeader = "x-request-id"

// NewGRPCServer builds a server with the documents service, the standard health service and
// reflection registered. The returned health server is flipped to NOT_SERVING on shutdown.
func NewGRPCServer(svc DocumentsServer, logger *slog.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(requestInterceptor(logger)))
	s := grpc.NewServer(opts...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	reflection.Register(s)
	RegisterDocumentsServer(s, svc)
	return s, hs
}

// requestInterceptor tags the context with a request id, logs every call and maps
// application errors onto gRPC status codes.
func requestInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		requestID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(requestIDHeader); len(v) > 0 {
				requestID = v[0]
			}
		}
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = common.WithRequestID(ctx, requestID)

		resp, err := handler(ctx, req)
		err = common.ToStatus(err)

		attrs := []any{
			"method", info.FullMethod,
			"request_id", requestID,
			"code", status.Code(err).String(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		}
		if err != nil {
			logger.Warn("grpc.call.failed", append(attrs, "error", err)...)
		} else {
			logger.Debug("grpc.call", attrs...)
		}
		return resp, err
	}
}
