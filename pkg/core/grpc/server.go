package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/msto63/chatterbox-ui/pkg/core/health"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// ServerConfig holds gRPC server configuration
type ServerConfig struct {
	Host              string
	Port              int
	EnableReflection  bool
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
	HealthInterval    time.Duration // How often the health registry is mirrored
}

// DefaultServerConfig returns a default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "127.0.0.1",
		Port:              9085,
		EnableReflection:  true,
		KeepaliveInterval: 30 * time.Second,
		KeepaliveTimeout:  10 * time.Second,
		HealthInterval:    15 * time.Second,
	}
}

// Server is the ops endpoint: the standard gRPC health service backed by a
// health.Registry, plus reflection for grpcurl.
type Server struct {
	server   *grpc.Server
	health   *grpchealth.Server
	registry *health.Registry
	config   ServerConfig
	logger   *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewServer creates a new gRPC ops server
func NewServer(cfg ServerConfig, registry *health.Registry, logger *logging.Logger, opts ...grpc.ServerOption) *Server {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 15 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}

	// Build server options
	serverOpts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    cfg.KeepaliveInterval,
			Timeout: cfg.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger),
			RequestIDInterceptor(),
			LoggingInterceptor(logger),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor(logger),
			StreamLoggingInterceptor(logger),
		),
	}

	// Append custom options
	serverOpts = append(serverOpts, opts...)

	server := grpc.NewServer(serverOpts...)
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	// Enable reflection for debugging
	if cfg.EnableReflection {
		reflection.Register(server)
	}

	return &Server{
		server:   server,
		health:   hs,
		registry: registry,
		config:   cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// GRPCServer returns the underlying gRPC server for service registration
func (s *Server) GRPCServer() *grpc.Server {
	return s.server
}

// StartAsync listens and serves in a goroutine and starts mirroring the health registry
func (s *Server) StartAsync() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.SyncHealth(context.Background())

	go func() {
		if err := s.server.Serve(listener); err != nil {
			// Log error but don't panic - server might be shutting down
			s.logger.Error("gRPC server error", "error", err)
		}
	}()
	go s.healthLoop()

	s.logger.Info("gRPC ops server listening", "address", listener.Addr().String())
	return nil
}

func (s *Server) healthLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.config.HealthInterval)
			s.SyncHealth(ctx)
			cancel()
		}
	}
}

// SyncHealth runs the registry checks and publishes the result. The overall
// status is published under the empty service name, each check under its own name.
func (s *Server) SyncHealth(ctx context.Context) {
	if s.registry == nil {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		return
	}

	report := s.registry.Check(ctx)
	s.health.SetServingStatus("", servingStatus(report.Status))
	for _, check := range report.Checks {
		s.health.SetServingStatus(check.Name, servingStatus(check.Status))
	}
}

func servingStatus(st health.Status) healthpb.HealthCheckResponse_ServingStatus {
	switch st {
	case health.StatusHealthy, health.StatusDegraded:
		return healthpb.HealthCheckResponse_SERVING
	case health.StatusUnhealthy:
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_UNKNOWN
	}
}

// StopWithTimeout stops the server, forcing it down when ctx expires
func (s *Server) StopWithTimeout(ctx context.Context) {
	s.mu.Lock()
	started := s.listener != nil
	s.mu.Unlock()

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
		if started {
			<-s.doneCh
		}
	}
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		s.server.Stop()
	}
}

// Address returns the server address
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
