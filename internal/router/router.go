package router

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jwestbrook/imageflow/internal/api"
	"github.com/jwestbrook/imageflow/internal/config"
	"github.com/jwestbrook/imageflow/internal/database"
	"github.com/jwestbrook/imageflow/internal/handler"
	"github.com/jwestbrook/imageflow/internal/queue"
	"github.com/jwestbrook/imageflow/internal/storage"
)

// Server holds the application dependencies and HTTP router.
type Server struct {
	DB     database.Database
	Store  storage.Storage
	Queue  queue.Queue
	Config *config.Config
	Router chi.Router
}

// New creates a new Server with a fully configured chi router.
func New(db database.Database, store storage.Storage, q queue.Queue, cfg *config.Config) *Server {
	s := &Server{DB: db, Store: store, Queue: q, Config: cfg}

	h := &handler.Handler{
		DB:     db,
		Store:  store,
		Queue:  q,
		Config: cfg,
	}

	r := chi.NewRouter()

	// CORS — must be before other middleware to handle preflight OPTIONS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check (no auth required).
	r.Get("/health", s.Health)

	// Blob delivery for the filesystem backend (no auth required; the
	// frontend loads these URLs from <img> tags without headers).
	r.Get("/blobs/*", h.ServeBlob)

	// Authenticated API.
	r.Group(func(r chi.Router) {
		r.Use(api.AuthMiddleware(cfg.JWTSecret))

		r.Post("/upload", h.Upload)
		r.Get("/images", h.ListImages)

		// Count must be registered before the {image_id} wildcard so
		// that /images/count is not interpreted as image_id="count".
		r.Get("/images/count", h.CountImages)

		r.Get("/images/{image_id}", h.GetImage)
		r.Get("/images/{image_id}/status", h.GetStatus)
		r.Delete("/images/{image_id}", h.DeleteImage)
	})

	s.Router = r
	return s
}

// Health returns a simple health-check response.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		log.Printf("Health: failed to encode response: %v", err)
	}
}
