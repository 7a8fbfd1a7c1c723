package api

import (
	"context"
	"fmt"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ReadyFunc reports whether the engine is serving.
type ReadyFunc func() bool

// HealthServer exposes the engine's readiness over the standard gRPC health
// protocol so cluster probes can check it without the HTTP API.
type HealthServer struct {
	grpcServer *grpc.Server
	healthSrv  *health.Server
	listener   net.Listener
	ready      ReadyFunc
	done       chan struct{}
}

// NewHealthServer binds a gRPC health endpoint to the given address.
func NewHealthServer(address string, ready ReadyFunc) (*HealthServer, error) {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	grpc_prometheus.Register(grpcServer)
	reflection.Register(grpcServer)

	return &HealthServer{
		grpcServer: grpcServer,
		healthSrv:  healthSrv,
		listener:   lis,
		ready:      ready,
		done:       make(chan struct{}),
	}, nil
}

// Start serves health checks and keeps the serving status in sync with the
// readiness function until Shutdown.
func (s *HealthServer) Start() error {
	go s.syncStatus()
	return s.grpcServer.Serve(s.listener)
}

func (s *HealthServer) syncStatus() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			status := healthpb.HealthCheckResponse_NOT_SERVING
			if s.ready() {
				status = healthpb.HealthCheckResponse_SERVING
			}
			s.healthSrv.SetServingStatus("", status)
		}
	}
}

// Shutdown attempts a graceful stop, falling back to a hard stop when the
// context expires.
func (s *HealthServer) Shutdown(ctx context.Context) {
	close(s.done)

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.Stop()
	case <-stopped:
	}
}

// Address exposes the bound listener address (useful for tests).
func (s *HealthServer) Address() string {
	return s.listener.Addr().String()
}
