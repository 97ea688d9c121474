package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ServerConfig holds the listener and limiter settings.
type ServerConfig struct {
	Host      string
	Port      int
	RateLimit float64
	RateBurst int
}

type Server struct {
	router chi.Router
	server *http.Server
	cancel context.CancelFunc
}

// NewServer builds the handler, limiter and optional paywall from cfg.
func NewServer(cfg Config, sc ServerConfig) (*Server, error) {
	handler, err := NewHandler(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	var limiter *RateLimiter
	if sc.RateLimit > 0 {
		limiter = NewRateLimiter(ctx, rate.Limit(sc.RateLimit), sc.RateBurst)
	}
	var paywall *Paywall
	if cfg.Paywall != nil {
		paywall = NewPaywall(*cfg.Paywall, cfg.Ledger)
	}

	router := NewRouter(handler, limiter, paywall)
	return &Server{
		router: router,
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", sc.Host, sc.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		cancel: cancel,
	}, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving requests until Stop is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("[API] starting server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	return s.server.Shutdown(ctx)
}
