// Package server exposes the Grace engine over a WebSocket chat endpoint,
// with HTTP and gRPC health checks.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/becomeliminal/grace/engine"
)

// ServiceName is the gRPC health service name reported for Grace.
const ServiceName = "grace"

// Config configures the server.
type Config struct {
	// Engine answers chat messages. Required.
	Engine *engine.Engine

	// GRPCAddr, when set, serves the gRPC health service on this address.
	GRPCAddr string

	// Logger defaults to the named global logger.
	Logger *zap.Logger
}

// Server serves /ws and /health.
type Server struct {
	engine   *engine.Engine
	grpcAddr string
	logger   *zap.Logger
	upgrader websocket.Upgrader
	health   *health.Server
	mux      *http.ServeMux
}

// New creates a server.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.L().Named("server")
	}

	s := &Server{
		engine:   cfg.Engine,
		grpcAddr: cfg.GRPCAddr,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		health: health.NewServer(),
		mux:    http.NewServeMux(),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Health returns the gRPC health server.
func (s *Server) Health() *health.Server {
	return s.health
}

// RegisterGRPC registers Grace's gRPC services on g.
func (s *Server) RegisterGRPC(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.health)
}

// Run serves HTTP on addr, and gRPC health on GRPCAddr when configured,
// until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("http listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			_ = httpSrv.Close()
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		s.RegisterGRPC(grpcSrv)
		go func() {
			s.logger.Info("grpc health listening", zap.String("addr", s.grpcAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	s.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	return runErr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := s.health.Check(r.Context(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		resp = &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVICE_UNKNOWN}
	}
	status := http.StatusOK
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		status = http.StatusServiceUnavailable
	}

	body, err := protojson.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
