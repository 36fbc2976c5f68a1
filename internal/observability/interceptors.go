package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"voice-agent-dashboard/internal/observability/metrics"
)

// UnaryServerInterceptor records every unary ingest call. Successful calls log
// at debug level; producers push segments many times a second.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start)

		code := status.Code(err)
		m.RecordGRPCCall(info.FullMethod, code.String(), elapsed.Seconds())

		callEvent(err, code).
			Str("method", info.FullMethod).
			Str("code", code.String()).
			Str("peer", peerAddr(ctx)).
			Dur("duration", elapsed).
			Msg("gRPC unary call")

		return resp, err
	}
}

// StreamServerInterceptor tracks stream lifetimes (health Watch, reflection).
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		m.RecordStreamStart()

		err := handler(srv, ss)

		elapsed := time.Since(start)
		m.RecordStreamEnd(elapsed.Seconds())

		code := status.Code(err)
		callEvent(err, code).
			Str("method", info.FullMethod).
			Str("code", code.String()).
			Str("peer", peerAddr(ss.Context())).
			Dur("duration", elapsed).
			Msg("gRPC stream completed")

		return err
	}
}

// callEvent picks the log level for a finished call. Client cancellations are
// routine and stay at debug.
func callEvent(err error, code codes.Code) *zerolog.Event {
	switch {
	case err == nil, code == codes.Canceled:
		return log.Debug()
	case code == codes.Internal, code == codes.Unknown:
		return log.Error().Err(err)
	default:
		return log.Warn().Err(err)
	}
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}
