package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server serves /metrics for prometheus scraping.
type Server struct {
	server *http.Server
	log    zerolog.Logger
}

// NewServer creates a server on addr exposing the collectors in gatherer.
func NewServer(log zerolog.Logger, addr string, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Server{
		server: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log:    log.With().Str("component", "metrics").Logger(),
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	s.log.Info().Str("address", s.server.Addr).Msg("Metrics server started")
	go func() {
		if err := s.server.ListenAndServe(); err != nil {
			if errors.Is(err, http.ErrServerClosed) {
				s.log.Debug().Err(err).Msg("Metrics server shutdown")
			} else {
				s.log.Error().Err(err).Msg("Metrics server failed")
			}
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
