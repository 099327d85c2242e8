package devserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harborchat/chatsync/internal/config"
	"github.com/harborchat/chatsync/pkg/logger"
)

// Server bundles the in-memory store, the websocket hub and the HTTP
// surface of the dev backend.
type Server struct {
	cfg    *config.Config
	store  *Store
	hub    *Hub
	logger *logger.Logger
}

// New creates a dev server.
func New(cfg *config.Config, log *logger.Logger) *Server {
	return &Server{
		cfg:    cfg,
		store:  NewStore(),
		hub:    NewHub(log),
		logger: log,
	}
}

// Run starts the hub loop; it returns when the context is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

// Router assembles the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(Logging(s.logger))
		r.Use(Auth(s.cfg.JWTSecret))
		r.Use(httprate.LimitByIP(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow))

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", s.CreateConversation)
				r.Get("/", s.ListConversations)
				r.Delete("/{id}", s.DeleteConversation)
			})
			r.Route("/messages", func(r chi.Router) {
				r.Post("/", s.SendMessage)
				r.Get("/{conversationID}", s.ListMessages)
				r.Put("/{id}", s.UpdateMessage)
				r.Delete("/{id}", s.DeleteMessage)
			})
		})
	})

	// The websocket route skips the logging wrapper: the upgrader needs
	// the raw http.ResponseWriter to hijack the connection.
	r.Group(func(r chi.Router) {
		r.Use(Auth(s.cfg.JWTSecret))
		r.Get("/ws", s.ServeWS)
	})

	return r
}
