package grpcserver

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const bufconnSize = 1024 * 1024

type togglePinger struct {
	failing atomic.Bool
}

func (pinger *togglePinger) Ping(ctx context.Context) error {
	if pinger.failing.Load() {
		return errors.New("database unreachable")
	}
	return nil
}

func startHealthClient(t *testing.T, checker *HealthChecker) healthpb.HealthClient {
	t.Helper()
	listener := bufconn.Listen(bufconnSize)
	grpcServer := NewServer(checker)
	go func() {
		if serveErr := grpcServer.Serve(listener); serveErr != nil {
			t.Logf("gRPC server error: %v", serveErr)
		}
	}()
	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.Dial()
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("gRPC client init failed: %v", err)
	}
	t.Cleanup(func() {
		grpcServer.Stop()
		_ = conn.Close()
	})
	return healthpb.NewHealthClient(conn)
}

func checkStatus(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	response, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	return response.GetStatus()
}

func TestHealthCheckerFollowsStorePing(t *testing.T) {
	t.Parallel()
	pinger := &togglePinger{}
	checker := NewHealthChecker(pinger, time.Hour, nil)
	client := startHealthClient(t, checker)

	if got := checkStatus(t, client, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before first check, got %s", got)
	}
	if got := checker.Check(context.Background()); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING from check, got %s", got)
	}
	if got := checkStatus(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected overall SERVING, got %s", got)
	}

	pinger.failing.Store(true)
	checker.Check(context.Background())
	if got := checkStatus(t, client, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING after failed ping, got %s", got)
	}
}

func TestHealthCheckerRunStopsWithContext(t *testing.T) {
	t.Parallel()
	checker := NewHealthChecker(&togglePinger{}, 10*time.Millisecond, nil)
	client := startHealthClient(t, checker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for checkStatus(t, client, ServiceName) != healthpb.HealthCheckResponse_SERVING {
		if time.Now().After(deadline) {
			t.Fatalf("checker never reported SERVING")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("checker did not stop")
	}
	if got := checkStatus(t, client, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING after shutdown, got %s", got)
	}
}
