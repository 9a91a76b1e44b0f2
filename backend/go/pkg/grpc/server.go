package grpc

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"ragbase/backend/go/pkg/grpcinterceptor"
	"ragbase/backend/go/pkg/logger"
	"ragbase/backend/go/pkg/ratelimiter"
)

// Server 封装了标准的 grpc.Server，内置日志、限流拦截器以及 grpc.health.v1 服务。
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	address    string
	log        logger.Logger
	limiter    ratelimiter.KeyedRateLimiter
}

// ServerOption 定义了用于配置 Server 的函数。
type ServerOption func(*Server)

// WithAddress 设置服务器监听的地址。
func WithAddress(addr string) ServerOption {
	return func(s *Server) {
		s.address = addr
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithRateLimiter 为所有一元调用启用按对端限流。
func WithRateLimiter(l ratelimiter.KeyedRateLimiter) ServerOption {
	return func(s *Server) {
		s.limiter = l
	}
}

// NewServer 创建并配置一个新的 Server 实例，默认监听 :50051。
func NewServer(opts ...ServerOption) *Server {
	srv := &Server{
		address: ":50051",
		log:     logger.New("grpc"),
	}
	for _, opt := range opts {
		opt(srv)
	}

	interceptors := []grpc.UnaryServerInterceptor{grpcinterceptor.LoggingUnaryInterceptor(srv.log)}
	if srv.limiter != nil {
		interceptors = append(interceptors, grpcinterceptor.RateLimitUnaryInterceptor(srv.limiter))
	}
	srv.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	srv.health = health.NewServer()
	healthpb.RegisterHealthServer(srv.grpcServer, srv.health)
	return srv
}

// Health 返回内置的健康检查服务，用于更新服务状态。
func (s *Server) Health() *health.Server {
	return s.health
}

// RegisterService 暴露底层的 gRPC RegisterService 方法，用于注册服务实现。
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	s.grpcServer.RegisterService(desc, impl)
}

// Address 返回监听地址。
func (s *Server) Address() string {
	return s.address
}

// ListenAndServe 开始监听并提供 gRPC 服务。
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	return s.Serve(lis)
}

// Serve 在给定的 listener 上提供服务。
func (s *Server) Serve(lis net.Listener) error {
	s.log.WithField("addr", lis.Addr().String()).Info("gRPC 服务器启动")
	return s.grpcServer.Serve(lis)
}

// GracefulStop 优雅地停止 gRPC 服务器，并将所有服务标记为 NOT_SERVING。
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
