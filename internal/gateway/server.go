// Package gateway is the HTTP surface of the server: the WebSocket
// endpoint plus a couple of read-only JSON routes.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/robdel12/orbitdock/internal/gateway/ws"
	"github.com/robdel12/orbitdock/internal/registry"
	"github.com/robdel12/orbitdock/internal/store"
)

// Version is the server release reported in hello frames.
const Version = "1.2.0"

// Server is the OrbitDock gateway HTTP server.
type Server struct {
	httpServer *http.Server
	gw         *ws.Gateway
	reg        *registry.Registry
	bind       string
	onBound    func(addr net.Addr)
}

// Config for NewServer.
type Config struct {
	Bind            string
	AuthToken       string
	ReadIdleTimeout time.Duration
	// OnBound runs once the listener is up, before serving; start uses it
	// to write the pid file only after a successful bind.
	OnBound func(addr net.Addr)
}

// NewServer wires routes. It does not bind; Start does.
func NewServer(reg *registry.Registry, writer *store.Writer, cfg Config) *Server {
	gw := ws.NewGateway(reg, writer, cfg.AuthToken, cfg.ReadIdleTimeout, Version)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		gw:      gw,
		reg:     reg,
		bind:    cfg.Bind,
		onBound: cfg.OnBound,
	}

	r.Get("/ws", gw.ServeWS)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/sessions", s.handleSessions)

	s.httpServer = &http.Server{
		Addr:    cfg.Bind,
		Handler: r,
	}
	return s
}

// Start binds and serves. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.bind, err)
	}
	if s.onBound != nil {
		s.onBound(ln.Addr())
	}
	slog.Info("gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the HTTP server. Actors are shut down by the
// registry, not here.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": Version})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.gw.Authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.reg.Summaries())
}
