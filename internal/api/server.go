// SPDX-License-Identifier: MIT

// Package api exposes the resolution engine over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/xianrendesu-max/sennintubeyobi/internal/config"
	"github.com/xianrendesu-max/sennintubeyobi/internal/log"
	"github.com/xianrendesu-max/sennintubeyobi/internal/service"
)

// thumbnailBase is the CDN the thumbnail proxy reads from.
const thumbnailBase = "https://i.ytimg.com"

// Server holds the HTTP surface over the service facade.
type Server struct {
	cfg       *config.Config
	svc       *service.Service
	client    *http.Client // outbound, for the thumbnail proxy
	thumbBase string
	logger    zerolog.Logger
}

// NewServer wires the HTTP surface.
func NewServer(cfg *config.Config, svc *service.Service, client *http.Client) *Server {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Server{
		cfg:       cfg,
		svc:       svc,
		client:    client,
		thumbBase: thumbnailBase,
		logger:    log.WithComponent("api"),
	}
}

// Routes builds the router with the canonical middleware stack.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(requestID)
	r.Use(s.requestLogger)
	if s.cfg.RequestLimit > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RequestLimit, s.cfg.RequestWindow))
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Get("/video", s.handleVideo)
		r.Get("/channel/{id}", s.handleChannel)
		r.Get("/comments", s.handleComments)
		r.Get("/social", s.handleSocial)
		r.Get("/streamurl", s.handleStreamURL)
		r.Get("/stream/mux", s.handleMuxStream)
		r.Get("/thumbnail/{id}", s.handleThumbnail)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
