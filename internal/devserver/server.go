package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/matheus3301/chatsync/internal/live/grpclive"
)

// Server owns the HTTP and gRPC listeners.
type Server struct {
	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcListener net.Listener
	logger       *zap.Logger
}

// NewServer binds both listeners. An empty grpcAddr disables gRPC.
func NewServer(httpAddr, grpcAddr string, handler http.Handler, live *LiveService, logger *zap.Logger) (*Server, error) {
	hl, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen http %s: %w", httpAddr, err)
	}
	s := &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		httpListener: hl,
		logger:       logger,
	}
	if grpcAddr == "" {
		return s, nil
	}
	gl, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		_ = hl.Close()
		return nil, fmt.Errorf("listen grpc %s: %w", grpcAddr, err)
	}
	s.grpcListener = gl
	s.grpcServer = grpc.NewServer()
	grpclive.Register(s.grpcServer, live)
	return s, nil
}

// HTTPAddr returns the bound HTTP address.
func (s *Server) HTTPAddr() string { return s.httpListener.Addr().String() }

// GRPCAddr returns the bound gRPC address, or "" when disabled.
func (s *Server) GRPCAddr() string {
	if s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("http server starting", zap.String("addr", s.HTTPAddr()))
		if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()
	if s.grpcServer == nil {
		return
	}
	go func() {
		s.logger.Info("gRPC server starting", zap.String("addr", s.GRPCAddr()))
		if err := s.grpcServer.Serve(s.grpcListener); err != nil {
			s.logger.Error("gRPC server error", zap.Error(err))
		}
	}()
}

// Stop shuts both servers down, forcing the gRPC server if ctx expires.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("servers stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
	if s.grpcServer == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}
