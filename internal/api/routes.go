package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func SetupRoutes(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Route("/connection", func(r chi.Router) {
			r.Post("/test", h.handleConnectionTest)
			r.Post("/connect", h.handleConnect)
			r.Post("/disconnect", h.handleDisconnect)
			r.Get("/status", h.handleConnectionStatus)
		})

		r.Route("/schema", func(r chi.Router) {
			r.Get("/tables", h.handleTables)
			r.Get("/foreign-keys", h.handleForeignKeys)
			r.Get("/stats", h.handleTableStats)
			r.Get("/columns", h.handleColumns)
		})

		r.Route("/data", func(r chi.Router) {
			r.Get("/count", h.handleRowCount)
			r.Get("/rows", h.handleRows)
		})

		r.Post("/dry-run", h.handleDryRun)

		r.Route("/watch", func(r chi.Router) {
			r.Post("/start", h.handleWatchStart)
			r.Post("/stop", h.handleWatchStop)
			r.Post("/stop-all", h.handleWatchStopAll)
			r.Get("/tables", h.handleWatchedTables)
		})

		r.Route("/supabase", func(r chi.Router) {
			r.Post("/test", h.handleSupabaseTest)
			r.Post("/connect", h.handleSupabaseConnect)
			r.Post("/disconnect", h.handleSupabaseDisconnect)
			r.Get("/status", h.handleSupabaseStatus)
		})

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", h.handleProfilesList)
			r.Post("/", h.handleProfileSave)
			r.Delete("/{id}", h.handleProfileDelete)
		})
	})

	r.Get("/ws", h.Hub.HandleWS)

	return r
}
