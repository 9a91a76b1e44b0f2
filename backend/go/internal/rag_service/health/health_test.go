package health

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"ragbase/backend/go/pkg/logger"
)

func servingStatus(t *testing.T, hs *health.Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.Status
}

func TestReporterFollowsCheck(t *testing.T) {
	hs := health.NewServer()
	ok := true
	r := NewReporter(hs, func(context.Context) (bool, string) { return ok, "vector store" }, time.Second, logger.Discard())

	if got := r.Update(context.Background()); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("Update = %s", got)
	}
	if got := servingStatus(t, hs, ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("service status = %s", got)
	}

	ok = false
	r.Update(context.Background())
	for _, name := range []string{"", ServiceName} {
		if got := servingStatus(t, hs, name); got != healthpb.HealthCheckResponse_NOT_SERVING {
			t.Errorf("status(%q) = %s", name, got)
		}
	}
}

func TestRunStopsWithContext(t *testing.T) {
	hs := health.NewServer()
	calls := make(chan struct{}, 16)
	r := NewReporter(hs, func(context.Context) (bool, string) {
		select {
		case calls <- struct{}{}:
		default:
		}
		return true, ""
	}, 10*time.Millisecond, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	<-calls
	<-calls
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
