// Package httpapi exposes the authority, the rule store and the enforcer
// hub over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/haukened/gracegate/internal/access/common/log"
)

// Server wraps the HTTP server and its router.
type Server struct {
	http    *http.Server
	router  chi.Router
	limiter *ipLimiter
	logger  log.Logger
}

// New builds the router and the server listening on addr.
func New(addr string, d Deps, limits Limits) *Server {
	if d.Logger == nil {
		d.Logger = log.NewNoopLogger()
	}
	logger := log.Component(d.Logger, "http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(logger, d.Metrics))

	var limiter *ipLimiter
	if limits.PerMinute > 0 {
		limiter = newIPLimiter(limits.PerMinute, limits.Burst, time.Minute, d.Metrics)
	}

	h := &handlers{deps: d, validate: newValidator(), logger: logger}
	r.Get("/healthz", h.healthz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}
	r.Route("/v1", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.middleware)
		}
		r.Post("/check", h.check)
		r.Post("/grants", h.requestGrant)
		r.Get("/grants", h.listGrants)
		r.Post("/verify", h.verify)
		r.Post("/navigate", h.navigate)
		r.Get("/quota", h.quota)
		r.Get("/rules", h.listRules)
		r.Post("/rules", h.addRule)
		r.Get("/rules/{id}", h.getRule)
		r.Delete("/rules/{id}", h.removeRule)
		if d.Hub != nil {
			r.Method(http.MethodGet, "/ws", d.Hub)
		}
	})

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		router:  r,
		limiter: limiter,
		logger:  logger,
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Serve accepts connections on ln until Stop. http.ErrServerClosed is not
// an error.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info(map[string]any{"addr": ln.Addr().String()}, "HTTP server listening")
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Stop gracefully shuts down the server with the provided context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info(nil, "HTTP server shutting down")
	if s.limiter != nil {
		s.limiter.stop()
	}
	return s.http.Shutdown(ctx)
}
