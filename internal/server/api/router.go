package api

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/dmitrijs2005/mediavault/internal/server/auth"
)

// NewRouter wires the API routes behind the JWT middleware.
func NewRouter(h *Handler, jwtSecret []byte) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(jwtSecret))

		r.Post("/lessons/video", h.UploadVideo)
		r.Post("/lessons/file", h.UploadFile)
		r.Get("/lessons/file", h.DownloadFile)
		r.Delete("/lessons/file", h.DeleteFile)

		r.Get("/jobs/{jobID}", h.GetJob)
		r.Post("/jobs/{jobID}/cancel", h.CancelJob)
	})

	return r
}
