package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mbocsi/gomesh/mesh"
	"github.com/mbocsi/gomesh/telemetry"
)

// Server exposes a read-only HTTP view of a running mesh node: its
// topology, its neighbour links and the process metrics.
type Server struct {
	node   *mesh.Node
	server *http.Server
}

func NewServer(node *mesh.Node) *Server {
	return &Server{node: node}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/status", s.handleStatus)
	r.Get("/topology", s.handleTopology)
	r.Get("/neighbours", s.handleNeighbours)
	r.Handle("/metrics", telemetry.MetricsHandler())

	return r
}

func (s *Server) Start(addr string) error {
	slog.Info("Starting status server", "addr", addr)
	s.server = &http.Server{Addr: addr, Handler: s.Routes()}
	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown() error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(context.Background())
}
