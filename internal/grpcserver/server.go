// Package grpcserver exposes the standard gRPC health service, reporting SERVING only while
// the database answers pings.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health entry for the dispatch core. The empty name mirrors it.
const ServiceName = "dispatchledger"

const pingTimeout = 2 * time.Second

// Pinger reports storage readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server owns the gRPC server and its health state.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	pinger     Pinger
	interval   time.Duration
	logger     *zap.Logger
}

// New registers the health and reflection services. Status starts NOT_SERVING until the
// first successful ping.
func New(pinger Pinger, interval time.Duration, logger *zap.Logger, options ...grpc.ServerOption) (*Server, error) {
	if pinger == nil {
		return nil, errors.New("grpcserver: pinger is nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("grpcserver: interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	grpcServer := grpc.NewServer(options...)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	server := &Server{grpcServer: grpcServer, health: healthServer, pinger: pinger, interval: interval, logger: logger}
	server.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return server, nil
}

// CheckNow pings storage once and updates the health status. It returns the ping error.
func (server *Server) CheckNow(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	err := server.pinger.Ping(pingCtx)
	if err != nil {
		server.logger.Warn("storage ping failed", zap.Error(err))
		server.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	server.setStatus(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Watch re-checks storage on every interval until ctx is cancelled.
func (server *Server) Watch(ctx context.Context) {
	_ = server.CheckNow(ctx)
	ticker := time.NewTicker(server.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = server.CheckNow(ctx)
		}
	}
}

// Serve accepts on listener until ctx is cancelled, then stops gracefully.
func (server *Server) Serve(ctx context.Context, listener net.Listener) error {
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go server.Watch(watchCtx)

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("gRPC server starting", zap.String("listen_addr", listener.Addr().String()))
		errCh <- server.grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		server.health.Shutdown()
		server.grpcServer.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}

func (server *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	server.health.SetServingStatus("", status)
	server.health.SetServingStatus(ServiceName, status)
}
