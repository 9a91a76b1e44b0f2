package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ragbase/backend/go/internal/rag_service/api"
	"ragbase/backend/go/internal/rag_service/health"
	"ragbase/backend/go/internal/rag_service/rag/storages/vectorstore"
	"ragbase/backend/go/pkg/discovery/etcd"
	rgrpc "ragbase/backend/go/pkg/grpc"
	rhttp "ragbase/backend/go/pkg/http"
	"ragbase/backend/go/pkg/ratelimiter"
)

const (
	shutdownTimeout = 5 * time.Second
	limiterMaxKeys  = 10000
	limiterIdleTTL  = 10 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the gRPC health endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx, cfgFile)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	var limiter ratelimiter.KeyedRateLimiter
	if rl := a.cfg.Server.RateLimiter; rl.Enabled {
		limiter = ratelimiter.NewPerKeyTokenBucket(rl.TokenBucket.Rate, rl.TokenBucket.Capacity, limiterMaxKeys, limiterIdleTTL)
	}

	router := api.SetupRouter(api.NewHandler(a.svc, log), api.RouterOptions{
		Log:                log,
		Limiter:            limiter,
		MaxMultipartMemory: 32 << 20,
	})
	httpServer := rhttp.NewServer(router, rhttp.WithAddress(a.cfg.Server.HTTPAddr), rhttp.WithLogger(log))

	grpcOpts := []rgrpc.ServerOption{rgrpc.WithAddress(a.cfg.Server.GRPCAddr), rgrpc.WithLogger(log)}
	if limiter != nil {
		grpcOpts = append(grpcOpts, rgrpc.WithRateLimiter(limiter))
	}
	grpcServer := rgrpc.NewServer(grpcOpts...)

	// gRPC 健康状态只跟随向量库；LLM 不可用时问答仍能返回回退答案。
	reporter := health.NewReporter(grpcServer.Health(), func(ctx context.Context) (bool, string) {
		report := a.svc.Health(ctx)
		return report.VectorService.Status == vectorstore.StatusConnected, report.VectorService.Message
	}, 0, log)

	healthCtx, cancelHealth := context.WithCancel(ctx)
	defer cancelHealth()
	go reporter.Run(healthCtx)

	errCh := make(chan error, 2)
	go func() {
		if err := grpcServer.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()
	log.WithField("http_addr", httpServer.Addr()).WithField("grpc_addr", grpcServer.Address()).Info("RAG 服务已启动")

	deregister := register(ctx, a)

	select {
	case <-ctx.Done():
		log.Info("收到退出信号，正在关闭服务...")
	case err = <-errCh:
		log.WithError(err).Error("服务异常退出")
	}

	if deregister != nil {
		deregister()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Warn("HTTP 服务器关闭超时")
	}
	grpcServer.GracefulStop()
	log.Info("服务已退出")
	return err
}

// register 在启用服务发现时把 HTTP 地址注册到 etcd，失败只记录日志。
func register(ctx context.Context, a *app) func() {
	dc := a.cfg.Discovery
	if !dc.Enabled {
		return nil
	}
	sd, err := etcd.NewServiceDiscovery(dc.Endpoints, a.log)
	if err != nil {
		a.log.WithError(err).Warn("服务发现不可用")
		return nil
	}
	addr := dc.Advertise
	if addr == "" {
		addr = a.cfg.Server.HTTPAddr
	}
	stop, err := sd.Register(ctx, dc.ServiceName, addr, dc.TTL)
	if err != nil {
		a.log.WithError(err).Warn("服务注册失败")
		_ = sd.Close()
		return nil
	}
	return func() {
		stop()
		_ = sd.Close()
	}
}
