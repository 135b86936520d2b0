package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/msto63/chatterbox-ui/pkg/core/health"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newTestServer(t *testing.T, registry *health.Registry) *Server {
	t.Helper()
	cfg := DefaultServerConfig()
	cfg.Port = 0
	s := NewServer(cfg, registry, logging.Nop())
	if err := s.StartAsync(); err != nil {
		t.Fatalf("StartAsync() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.StopWithTimeout(ctx)
	})
	return s
}

func TestServer_HealthServing(t *testing.T) {
	registry := health.NewRegistry("chatterbox-ui", "test")
	registry.Register(health.PingCheck("upstream", true, func(context.Context) error { return nil }))

	s := newTestServer(t, registry)

	got, err := CheckHealth(context.Background(), s.Address(), "", 2*time.Second)
	if err != nil {
		t.Fatalf("CheckHealth() error = %v", err)
	}
	if got != healthpb.HealthCheckResponse_SERVING.String() {
		t.Errorf("status = %v, want SERVING", got)
	}

	got, err = CheckHealth(context.Background(), s.Address(), "upstream", 2*time.Second)
	if err != nil {
		t.Fatalf("CheckHealth(upstream) error = %v", err)
	}
	if got != healthpb.HealthCheckResponse_SERVING.String() {
		t.Errorf("upstream status = %v, want SERVING", got)
	}
}

func TestServer_HealthNotServing(t *testing.T) {
	registry := health.NewRegistry("chatterbox-ui", "test")
	registry.RegisterFunc("history", func(ctx context.Context) health.CheckResult {
		return health.CheckResult{Status: health.StatusUnhealthy, Message: "closed"}
	})

	s := newTestServer(t, registry)

	got, err := CheckHealth(context.Background(), s.Address(), "", 2*time.Second)
	if err != nil {
		t.Fatalf("CheckHealth() error = %v", err)
	}
	if got != healthpb.HealthCheckResponse_NOT_SERVING.String() {
		t.Errorf("status = %v, want NOT_SERVING", got)
	}
}

func TestServingStatus(t *testing.T) {
	tests := []struct {
		in   health.Status
		want healthpb.HealthCheckResponse_ServingStatus
	}{
		{health.StatusHealthy, healthpb.HealthCheckResponse_SERVING},
		{health.StatusDegraded, healthpb.HealthCheckResponse_SERVING},
		{health.StatusUnhealthy, healthpb.HealthCheckResponse_NOT_SERVING},
		{health.StatusUnknown, healthpb.HealthCheckResponse_UNKNOWN},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			if got := servingStatus(tt.in); got != tt.want {
				t.Errorf("servingStatus(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestServer_StopWithoutStart(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.StopWithTimeout(ctx)
}
