package grpcserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type switchablePinger struct {
	mutex sync.Mutex
	err   error
}

func (pinger *switchablePinger) Ping(context.Context) error {
	pinger.mutex.Lock()
	defer pinger.mutex.Unlock()
	return pinger.err
}

func (pinger *switchablePinger) fail(err error) {
	pinger.mutex.Lock()
	defer pinger.mutex.Unlock()
	pinger.err = err
}

func startServer(test *testing.T, pinger Pinger) (*Server, healthpb.HealthClient) {
	test.Helper()
	server, err := New(pinger, time.Hour, nil)
	if err != nil {
		test.Fatalf("new: %v", err)
	}
	listener := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return listener.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		test.Fatalf("dial: %v", err)
	}
	test.Cleanup(func() {
		_ = conn.Close()
		cancel()
		if serveErr := <-done; serveErr != nil {
			test.Errorf("serve: %v", serveErr)
		}
	})
	return server, healthpb.NewHealthClient(conn)
}

func checkStatus(test *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	test.Helper()
	response, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		test.Fatalf("check: %v", err)
	}
	return response.GetStatus()
}

func TestHealthFollowsStoragePing(test *testing.T) {
	test.Parallel()
	pinger := &switchablePinger{}
	server, client := startServer(test, pinger)
	if err := server.CheckNow(context.Background()); err != nil {
		test.Fatalf("check now: %v", err)
	}
	if status := checkStatus(test, client, ServiceName); status != healthpb.HealthCheckResponse_SERVING {
		test.Fatalf("expected SERVING, got %s", status)
	}

	pinger.fail(errors.New("connection refused"))
	if err := server.CheckNow(context.Background()); err == nil {
		test.Fatalf("expected ping error")
	}
	if status := checkStatus(test, client, ""); status != healthpb.HealthCheckResponse_NOT_SERVING {
		test.Fatalf("expected NOT_SERVING, got %s", status)
	}
}

func TestNewValidatesArguments(test *testing.T) {
	test.Parallel()
	if _, err := New(nil, time.Second, nil); err == nil {
		test.Fatalf("expected error for nil pinger")
	}
	if _, err := New(&switchablePinger{}, 0, nil); err == nil {
		test.Fatalf("expected error for zero interval")
	}
}
