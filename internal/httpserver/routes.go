package httpserver

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware block
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// Webhook intake for the messaging platform
	r.Get("/webhook", s.HandleWebhookVerify)
	r.Post("/webhook", s.HandleWebhookEvent)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Get("/health", s.HandleHealth)
		r.Post("/auth/login", s.HandleLogin)

		r.Get("/transcriptions", s.HandleListTranscriptions)
		r.Get("/transcriptions/{id}", s.HandleGetTranscription)
		r.Get("/transcriptions/{id}/audio", s.HandleTranscriptionAudio)
		r.Get("/stats", s.HandleStats)
		r.Get("/settings", s.HandleGetSettings)

		// Mutating routes require a dashboard token
		r.Group(func(r chi.Router) {
			r.Use(s.AuthMiddleware)

			r.Post("/transcriptions", s.HandleManualUpload)
			r.Patch("/transcriptions/{id}", s.HandleUpdateTranscription)
			r.Delete("/transcriptions/{id}", s.HandleDeleteTranscription)
			r.Delete("/transcriptions", s.HandleDeleteAllTranscriptions)
			r.Put("/settings", s.HandleUpdateSettings)
		})
	})

	// Live updates are streamed uncompressed
	r.Get("/api/events", s.HandleEvents)

	return r
}
