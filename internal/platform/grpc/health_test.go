package grpc

import (
	"context"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
)

func TestWaitForHealthServing(t *testing.T) {
	server, stop := startHealthServer(t)
	defer stop()
	server.SetServing("", true)

	conn := dialHealthServer(t, server.Addr())
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := WaitForHealth(ctx, conn, "", nil); err != nil {
		t.Fatalf("wait for health: %v", err)
	}
}

func TestWaitForHealthTransitionsToServing(t *testing.T) {
	server, stop := startHealthServer(t, "dialog.v1.Conversations")
	defer stop()

	conn := dialHealthServer(t, server.Addr())
	defer conn.Close()

	go func() {
		time.Sleep(200 * time.Millisecond)
		server.SetServing("dialog.v1.Conversations", true)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := WaitForHealth(ctx, conn, "dialog.v1.Conversations", nil); err != nil {
		t.Fatalf("wait for health after transition: %v", err)
	}
}

func TestWaitForHealthRespectsContext(t *testing.T) {
	server, stop := startHealthServer(t)
	defer stop()

	conn := dialHealthServer(t, server.Addr())
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := WaitForHealth(ctx, conn, "", nil); err == nil {
		t.Fatal("expected context error, got nil")
	}
}

func TestWaitForHealthRequiresConnection(t *testing.T) {
	if err := WaitForHealth(context.Background(), nil, "", nil); err == nil {
		t.Fatal("expected error for nil connection")
	}
}

func startHealthServer(t *testing.T, services ...string) (*HealthServer, func()) {
	t.Helper()

	server, err := NewHealthServer("127.0.0.1:0", nil, services...)
	if err != nil {
		t.Fatalf("new health server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ctx)
	}()

	stop := func() {
		cancel()
		select {
		case err := <-serveErr:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("health server did not stop")
		}
	}
	return server, stop
}

func dialHealthServer(t *testing.T, addr string) *gogrpc.ClientConn {
	t.Helper()
	conn, err := Dial(addr)
	if err != nil {
		t.Fatalf("dial health server: %v", err)
	}
	return conn
}
