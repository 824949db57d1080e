// Package api wires cross-cutting RPC concerns - request logging and
// latency metrics - onto the hand-written grpc.ServiceDesc in pkg/rpc,
// the same seam the gRPC server plugs a generated service's interceptor
// into.
package api

import (
	"context"
	"strings"

	"google.golang.org/grpc"

	"github.com/yesqlkv/yesqlkv/pkg/log"
	"github.com/yesqlkv/yesqlkv/pkg/metrics"
)

// LoggingInterceptor logs every unary RPC at debug level with its method
// name and outcome, and records its duration against
// metrics.RPCRequestDuration.
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		method := methodName(info.FullMethod)
		timer := metrics.NewTimer()

		resp, err := handler(ctx, req)

		timer.ObserveDurationVec(metrics.RPCRequestDuration, method)
		logger := log.WithComponent("rpc")
		if err != nil {
			logger.Error().Str("method", method).Err(err).Msg("rpc failed")
		} else {
			logger.Debug().Str("method", method).Msg("rpc served")
		}
		return resp, err
	}
}

func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	return parts[len(parts)-1]
}
