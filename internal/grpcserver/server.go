// Package grpcserver serves the standard gRPC health protocol for the ledger daemon.
package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	// ServiceName is the health service name reported next to the overall status.
	ServiceName = "coinledger.v1.Ledger"

	defaultCheckInterval = 5 * time.Second
	pingTimeout          = 2 * time.Second
)

// Pinger reports whether the backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker drives the health service from periodic store pings.
type HealthChecker struct {
	pinger   Pinger
	server   *health.Server
	interval time.Duration
	logger   *zap.Logger
}

// NewHealthChecker builds a checker. A non-positive interval falls back to five seconds.
func NewHealthChecker(pinger Pinger, interval time.Duration, logger *zap.Logger) *HealthChecker {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	server := health.NewServer()
	server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	server.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthChecker{pinger: pinger, server: server, interval: interval, logger: logger}
}

// NewServer returns a gRPC server with the checker's health service registered.
func NewServer(checker *HealthChecker, options ...grpc.ServerOption) *grpc.Server {
	grpcServer := grpc.NewServer(options...)
	healthpb.RegisterHealthServer(grpcServer, checker.server)
	return grpcServer
}

// Run checks once immediately and then every interval until ctx ends, when every
// service is moved to NOT_SERVING.
func (checker *HealthChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(checker.interval)
	defer ticker.Stop()
	checker.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			checker.server.Shutdown()
			return
		case <-ticker.C:
			checker.Check(ctx)
		}
	}
}

// Check pings the store and publishes the result.
func (checker *HealthChecker) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	pingContext, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	servingStatus := healthpb.HealthCheckResponse_SERVING
	if err := checker.pinger.Ping(pingContext); err != nil {
		checker.logger.Warn("store ping failed", zap.Error(err))
		servingStatus = healthpb.HealthCheckResponse_NOT_SERVING
	}
	checker.server.SetServingStatus("", servingStatus)
	checker.server.SetServingStatus(ServiceName, servingStatus)
	return servingStatus
}
