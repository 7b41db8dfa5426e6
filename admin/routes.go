package admin

import (
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes mounts the admin API under /admin
func RegisterRoutes(r chi.Router, handlers *AdminHandlers, secret string) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(AuthMiddleware(secret))

		r.Get("/stats", handlers.handleStats)
		r.Get("/topics", handlers.handleTopics)
		r.Get("/sinks", handlers.handleSinks)

		r.Route("/records", func(r chi.Router) {
			r.Get("/", handlers.handleRecords)
			r.Get("/{recordID}", handlers.handleRecord)
		})
	})

	log.Info().Msg("Admin endpoints enabled at /admin/*")
}
