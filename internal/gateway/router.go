package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/raphaelsena12/prontivus-ec2-sub007/internal/session"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(h *Handler, registry *session.Registry) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1/consultations", func(r chi.Router) {
		// WebSocket ingest. The consultation id in the path is advisory;
		// the session binds to the id in the metadata frame.
		r.Get("/stream", h.HandleStream)

		// Live transcript snapshot of an in-flight session.
		r.Get("/{id}/transcript", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			sess, ok := registry.Get(id)
			if !ok {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"consultationId": id,
				"state":          sess.Lifecycle.State().String(),
				"segments":       sess.Aggregator.Live(),
			})
		})

		// Force-abort: hard-close the session, discarding unflushed
		// partials.
		r.Delete("/{id}", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			if err := registry.Abort(id); err != nil {
				if errors.Is(err, session.ErrSessionNotFound) {
					http.Error(w, "session not found", http.StatusNotFound)
					return
				}
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})

	return r
}
