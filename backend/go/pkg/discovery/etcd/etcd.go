package etcd

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"ragbase/backend/go/pkg/logger"
)

// ServiceDiscovery 基于 etcd 租约的服务注册与发现。
type ServiceDiscovery struct {
	cli *clientv3.Client
	log logger.Logger
}

// NewServiceDiscovery creates a new ServiceDiscovery.
func NewServiceDiscovery(endpoints []string, log logger.Logger) (*ServiceDiscovery, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("无法连接 etcd %v: %w", endpoints, err)
	}
	return &ServiceDiscovery{cli: cli, log: log.WithComponent("discovery")}, nil
}

// ServiceKey 返回注册键 "/<service>/<addr>"。
func ServiceKey(serviceName, addr string) string {
	return servicePrefix(serviceName) + addr
}

func servicePrefix(serviceName string) string {
	return "/" + strings.Trim(serviceName, "/") + "/"
}

// Register 以租约方式注册 addr，并在后台续约直到返回的 stop 被调用。
// stop 会撤销租约，使注册立即失效。
func (s *ServiceDiscovery) Register(ctx context.Context, serviceName, addr string, ttl int64) (stop func(), err error) {
	if ttl <= 0 {
		ttl = 10
	}
	lease, err := s.cli.Grant(ctx, ttl)
	if err != nil {
		return nil, fmt.Errorf("申请 etcd 租约失败: %w", err)
	}
	key := ServiceKey(serviceName, addr)
	if _, err := s.cli.Put(ctx, key, addr, clientv3.WithLease(lease.ID)); err != nil {
		return nil, fmt.Errorf("写入注册键 %s 失败: %w", key, err)
	}

	keepCtx, cancel := context.WithCancel(context.Background())
	keepAliveCh, err := s.cli.KeepAlive(keepCtx, lease.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("续约失败: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-keepCtx.Done():
				return
			case _, ok := <-keepAliveCh:
				if !ok {
					s.log.WithField("key", key).Warn("etcd 租约已失效")
					return
				}
			}
		}
	}()
	s.log.WithField("key", key).Info("服务已注册")

	return func() {
		cancel()
		<-done
		revokeCtx, revokeCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer revokeCancel()
		if _, err := s.cli.Revoke(revokeCtx, lease.ID); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("撤销 etcd 租约失败")
		}
	}, nil
}

// Discover 返回 serviceName 下所有已注册的地址。
func (s *ServiceDiscovery) Discover(ctx context.Context, serviceName string) ([]string, error) {
	resp, err := s.cli.Get(ctx, servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		addrs = append(addrs, string(kv.Value))
	}
	return addrs, nil
}

// Close closes the etcd client.
func (s *ServiceDiscovery) Close() error {
	return s.cli.Close()
}
