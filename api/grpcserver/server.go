// Package grpcserver exposes the process health over gRPC so an
// orchestrator can restart a halted exchange core.
package grpcserver

import (
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"tradecore/pkg/logger"
)

// ServiceName is the health service name of the exchange core.
const ServiceName = "tradecore.Engine"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *logger.Logger
}

// New builds a server that reports NOT_SERVING until SetServing(true).
func New(lg *logger.Logger) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		logger: lg.WithFields(logger.NewField("component", "grpc")),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.SetServing(false)
	return s
}

// SetServing flips both the overall and the named service status.
func (s *Server) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	s.logger.Info("health changed", logger.NewField("status", status.String()))
}

func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("grpc listening", logger.NewField("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks the server down and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
