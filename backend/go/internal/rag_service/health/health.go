// Package health 把知识库的汇总健康检查同步到 grpc.health.v1 服务。
package health

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"ragbase/backend/go/pkg/logger"
)

// ServiceName 是在健康检查服务中注册的服务名。空字符串代表整个服务器。
const ServiceName = "ragbase.KnowledgeBase"

// CheckFunc 执行一次检查，返回是否可用以及说明。
type CheckFunc func(ctx context.Context) (ok bool, detail string)

// Reporter 定期执行检查并更新健康状态。
type Reporter struct {
	hs       *health.Server
	check    CheckFunc
	interval time.Duration
	log      logger.Logger
	last     healthpb.HealthCheckResponse_ServingStatus
}

// NewReporter 创建 Reporter。interval <= 0 时使用 15 秒。
func NewReporter(hs *health.Server, check CheckFunc, interval time.Duration, log logger.Logger) *Reporter {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Reporter{hs: hs, check: check, interval: interval, log: log.WithComponent("health"), last: healthpb.HealthCheckResponse_UNKNOWN}
}

// Update 执行一次检查并写入状态，返回新的状态。
func (r *Reporter) Update(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	ok, detail := r.check(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.hs.SetServingStatus("", status)
	r.hs.SetServingStatus(ServiceName, status)

	if status != r.last {
		entry := r.log.WithFields(map[string]interface{}{"status": status.String(), "detail": detail})
		if ok {
			entry.Info("健康状态变化")
		} else {
			entry.Warn("健康状态变化")
		}
		r.last = status
	}
	return status
}

// Run 立即检查一次，然后按间隔检查直到 ctx 结束。
func (r *Reporter) Run(ctx context.Context) {
	r.Update(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Update(ctx)
		}
	}
}
