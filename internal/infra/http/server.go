package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"billing-gateway/internal/config"
	"billing-gateway/internal/infra/api"
)

// Mounter registers a group of routes on the root router.
type Mounter interface {
	Register(r chi.Router)
}

// MountFunc adapts a plain function to Mounter.
type MountFunc func(r chi.Router)

func (f MountFunc) Register(r chi.Router) { f(r) }

type Server struct {
	cfg    config.HTTPConfig
	log    *zerolog.Logger
	routes []Mounter
	server *http.Server
}

func NewServer(cfg config.HTTPConfig, logger *zerolog.Logger, routes ...Mounter) *Server {
	return &Server{cfg: cfg, log: logger, routes: routes}
}

// Handler builds the root router with the shared middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	for _, m := range s.routes {
		m.Register(r)
	}
	proxies, err := api.ParseTrustedProxies(s.cfg.TrustedProxies)
	if err != nil {
		s.log.Error().Err(err).Msg("ignoring trusted proxies")
		proxies = nil
	}
	return api.Chain(r,
		api.RealIP(proxies),
		api.TraceID(s.log),
		api.RequestLog(s.log),
		api.Recover(s.log),
		api.Timeout(s.cfg.RequestTimeout),
	)
}

// Start blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	s.log.Info().Int("port", s.cfg.Port).Msg("HTTP server listening")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
