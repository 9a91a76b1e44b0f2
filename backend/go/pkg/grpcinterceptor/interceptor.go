package grpcinterceptor

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"ragbase/backend/go/pkg/logger"
	"ragbase/backend/go/pkg/ratelimiter"
)

// LoggingUnaryInterceptor 返回一个 gRPC 一元拦截器，记录每次调用的方法、耗时与状态码。
func LoggingUnaryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		entry := log.WithFields(map[string]interface{}{
			"method":     info.FullMethod,
			"code":       status.Code(err).String(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
		if err != nil {
			entry.WithError(err).Warn("gRPC 调用失败")
		} else {
			entry.Debug("gRPC 调用完成")
		}
		return resp, err
	}
}

// RateLimitUnaryInterceptor 返回一个 gRPC 一元拦截器，按对端地址限流。
func RateLimitUnaryInterceptor(limiter ratelimiter.KeyedRateLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !limiter.AllowKey(peerKey(ctx)) {
			// 当请求被限流时，返回 gRPC 标准的 ResourceExhausted 错误码。
			return nil, status.Errorf(codes.ResourceExhausted, "request rejected due to rate limiting")
		}
		return handler(ctx, req)
	}
}

func peerKey(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}
