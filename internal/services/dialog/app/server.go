package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"

	platformgrpc "github.com/louisbranch/dialog/internal/platform/grpc"
	"github.com/louisbranch/dialog/internal/platform/timeouts"
)

// Server hosts the dialog HTTP API, the health endpoint and the followers.
type Server struct {
	runtime      *Runtime
	httpServer   *http.Server
	httpListener net.Listener
	health       *platformgrpc.HealthServer
	logger       *slog.Logger
}

// New builds a runtime and binds its listeners.
func New(ctx context.Context, cfg Config) (*Server, error) {
	rt, err := NewRuntime(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.logger()

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	s := &Server{
		runtime:      rt,
		httpListener: listener,
		httpServer: &http.Server{
			Handler:           rt.API.Handler(),
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		logger: logger,
	}
	s.httpServer.RegisterOnShutdown(rt.API.CloseStreams)
	if cfg.HealthAddr != "" {
		health, err := platformgrpc.NewHealthServer(cfg.HealthAddr, logger, HealthService)
		if err != nil {
			_ = listener.Close()
			_ = rt.Close()
			return nil, err
		}
		s.health = health
	}
	return s, nil
}

// Run creates and serves a dialog server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Addr returns the HTTP listener address.
func (s *Server) Addr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// HealthAddr returns the health listener address, empty when disabled.
func (s *Server) HealthAddr() string {
	if s == nil || s.health == nil {
		return ""
	}
	return s.health.Addr()
}

// Runtime exposes the wired service.
func (s *Server) Runtime() *Runtime {
	return s.runtime
}

// Serve blocks until ctx ends or a component fails, then shuts everything
// down and closes the stores.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		if err := s.runtime.Close(); err != nil {
			s.logger.Error("close runtime", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, run := range s.runtime.followers() {
		g.Go(func() error { return run(gctx) })
	}
	if s.health != nil {
		g.Go(func() error { return s.health.Serve(gctx) })
		s.health.SetServing("", true)
		s.health.SetServing(HealthService, true)
	}
	g.Go(func() error {
		s.logger.Info("dialog HTTP server listening", "addr", s.Addr())
		if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if s.health != nil {
			s.health.SetServing(HealthService, false)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown HTTP: %w", err)
		}
		return nil
	})
	return g.Wait()
}
