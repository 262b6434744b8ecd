// Package api serves the catalog and progress operations over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/p-n-ai/pai-academy/internal/catalog"
	"github.com/p-n-ai/pai-academy/internal/progress"
)

const requestTimeout = 60 * time.Second

// Server is the HTTP API server.
type Server struct {
	router  *chi.Mux
	service *progress.Service
	store   *progress.Store
	catalog *catalog.Catalog
	hub     *Hub
}

// NewServer builds the router. hub may be nil, in which case the stream
// endpoint is not mounted.
func NewServer(service *progress.Service, hub *Hub) *Server {
	s := &Server{
		service: service,
		store:   service.Store(),
		catalog: service.Store().Catalog(),
		hub:     hub,
	}
	s.setupRouter()
	return s
}

// Router returns the configured router.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Route("/catalog", func(r chi.Router) {
				r.Get("/", s.handleListCatalog)
				r.Get("/facets", s.handleFacets)
				r.Get("/{itemID}", s.handleGetItem)
			})

			r.Route("/items/{itemID}", func(r chi.Router) {
				r.Get("/ratings", s.handleGetRating)
				r.Post("/ratings", s.handleSubmitRating)
				r.Get("/feedback", s.handleListFeedback)
				r.Post("/feedback", s.handleSubmitFeedback)
			})
		})

		r.Route("/users/{userID}", func(r chi.Router) {
			// Long-lived, so it sits outside the request timeout.
			if s.hub != nil {
				r.Get("/stream", s.handleStream)
			}

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(requestTimeout))

				r.Get("/progress", s.handleListProgress)
				r.Delete("/progress", s.handleResetProgress)
				r.Route("/progress/{itemID}", func(r chi.Router) {
					r.Get("/", s.handleGetProgress)
					r.Post("/units/{unitID}/complete", s.handleCompleteUnit)
					r.Put("/position", s.handleUpdatePosition)
					r.Post("/bookmark", s.handleToggleBookmark)
					r.Post("/favorite", s.handleToggleFavorite)
				})

				r.Post("/enrollments/{itemID}", s.handleEnroll)
				r.Delete("/enrollments/{itemID}", s.handleUnenroll)

				r.Get("/preferences", s.handleGetPreferences)
				r.Put("/preferences", s.handleSetPreferences)

				r.Get("/filters", s.handleGetFilters)
				r.Patch("/filters", s.handleUpdateFilters)
				r.Delete("/filters", s.handleClearFilters)
				r.Get("/catalog", s.handleUserCatalog)

				r.Get("/report.xlsx", s.handleReport)
			})
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
