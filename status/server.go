// Package status serves a read-only HTTP view of a kernel: its units, its
// beans and its Prometheus metrics.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/kernel"
)

// Static errors for the status server
var (
	ErrServerStarted = errors.New("status server already started")
)

// DefaultAddress is the listen address used when none is set.
const DefaultAddress = ":9090"

// ServerType is the registered type name of *Server.
const ServerType = "status.Server"

// Server exposes kernel state over HTTP.
type Server struct {
	kernel  *kernel.Kernel
	logger  kernel.Logger
	router  *chi.Mux
	address string

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
	done   chan struct{}
}

// NewServer creates a status server for k.
func NewServer(k *kernel.Kernel) *Server {
	s := &Server{kernel: k, logger: k.Logger(), address: DefaultAddress}
	s.router = chi.NewRouter()
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)

	s.router.Get("/healthz", s.health)
	s.router.Get("/units", s.listUnits)
	s.router.Get("/units/{id}", s.getUnit)
	s.router.Get("/beans", s.listBeans)
	s.router.Get("/beans/{name}", s.getBean)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(k.Gatherer(), promhttp.HandlerOpts{}))
	return s
}

// SetAddress sets the listen address.
func (s *Server) SetAddress(address string) {
	s.address = address
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.address
}

// Addr returns the bound address once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return ErrServerStarted
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		return fmt.Errorf("status server listen on %s: %w", s.address, err)
	}
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.addr = ln.Addr()
	s.done = make(chan struct{})

	srv, done := s.server, s.done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server failed", "address", ln.Addr().String(), "error", err)
		}
	}()
	s.logger.Info("Status server started", "address", s.addr.String())
	return nil
}

// Stop shuts the server down gracefully. Stopping a server that is not
// running does nothing.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down status server: %w", err)
	}
	<-s.done
	s.server = nil
	s.logger.Info("Status server stopped")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("Request", "method", r.Method, "path", r.URL.Path, "requestID", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"units":  len(s.kernel.Units()),
	})
}

func (s *Server) listUnits(w http.ResponseWriter, _ *http.Request) {
	units := s.kernel.Units()
	out := make([]kernel.UnitInfo, 0, len(units))
	for _, u := range units {
		out = append(out, u.Info())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getUnit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	u, ok := s.kernel.Unit(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unit %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, u.Info())
}

func (s *Server) listBeans(w http.ResponseWriter, _ *http.Request) {
	names := s.kernel.BeanNames()
	out := make([]kernel.BeanInfo, 0, len(names))
	for _, n := range names {
		if info, ok := s.kernel.BeanInfo(n); ok {
			out = append(out, info)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getBean(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, ok := s.kernel.BeanInfo(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("bean %q not found", name))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Register adds the status server bean type to types.
func Register(types *kernel.TypeRegistry) error {
	return types.Register(
		kernel.Describe[*Server](ServerType).
			Constructor(NewServer).
			Method("SetAddress", (*Server).SetAddress).
			Method("GetAddress", (*Server).Address),
	)
}
