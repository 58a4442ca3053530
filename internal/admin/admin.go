// Package admin serves the operator gRPC endpoint: the standard health
// service and server reflection.
package admin

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/cory-johannsen/lobby/internal/config"
)

// ServiceName is the health service name operators query.
const ServiceName = "lobby"

// Server is the admin gRPC server. It implements server.Service.
type Server struct {
	cfg    config.AdminConfig
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger

	mu  sync.Mutex
	lis net.Listener
}

// NewServer creates an admin server reporting ServiceName as NOT_SERVING
// until Start is called.
//
// Precondition: logger must be non-nil.
func NewServer(cfg config.AdminConfig, logger *zap.Logger) *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)
	return &Server{cfg: cfg, grpc: gs, health: hs, logger: logger}
}

// Start listens on the configured address and serves until Stop.
//
// Postcondition: Returns nil after a graceful Stop, or the listen/serve error.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()

	s.logger.Info("admin server listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("serving admin: %w", err)
	}
	return nil
}

// SetServing flips the reported status of ServiceName.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// Stop reports NOT_SERVING to watchers, then drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.logger.Info("admin server stopped")
}

// Addr returns the bound address, or "" before Start has listened.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}
