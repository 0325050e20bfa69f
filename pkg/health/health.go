// Package health exposes liveness over gRPC (grpc.health.v1 plus reflection)
// and over HTTP at /health.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Check reports a dependency's health; nil means healthy.
type Check func(ctx context.Context) error

type Server struct {
	service string
	grpc    *grpc.Server
	health  *health.Server

	mu     sync.RWMutex
	checks map[string]Check
}

func NewServer(service string) *Server {
	s := &Server{
		service: service,
		grpc:    grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler())),
		health:  health.NewServer(),
		checks:  make(map[string]Check),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return s
}

// AddCheck registers a dependency check consulted by /health and Watch.
func (s *Server) AddCheck(name string, c Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = c
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Run evaluates every check and returns the failures keyed by check name.
func (s *Server) Run(ctx context.Context) map[string]string {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	failures := make(map[string]string)
	for _, name := range names {
		s.mu.RLock()
		check := s.checks[name]
		s.mu.RUnlock()
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	return failures
}

// Watch re-evaluates the checks every interval and flips the gRPC serving
// status accordingly, until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			failures := s.Run(checkCtx)
			cancel()
			if len(failures) > 0 {
				slog.Warn("health check failed", "service", s.service, "failures", failures)
				s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
				continue
			}
			s.setStatus(healthpb.HealthCheckResponse_SERVING)
		}
	}
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(s.service, st)
}

type response struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// HTTPHandler serves GET /health: 200 when every check passes, 503 otherwise.
func (s *Server) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status, resp := http.StatusOK, response{Status: "ok", Service: s.service}
		if failures := s.Run(ctx); len(failures) > 0 {
			status, resp.Status, resp.Checks = http.StatusServiceUnavailable, "unavailable", failures
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
