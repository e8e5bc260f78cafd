package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sessionbroker/broker/internal/manager"
	"github.com/sessionbroker/broker/pkg/types"
)

// restTimeout bounds how long a REST handler waits on the manager
// before giving up, independent of the client's own request deadline.
const restTimeout = 10 * time.Second

// Router builds the chi mux exposing the Consumer Gateway's WebSocket
// upgrade endpoint, the Transport Hub's dial-back endpoint, and a small
// REST surface for session lifecycle management — mirroring the
// teacher's middleware stack (request id, structured logging, panic
// recovery, permissive CORS for the browser consumer).
func Router(cfg *types.Config, mgr *manager.Manager, gw *Gateway, hub *TransportHub) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/session", func(r chi.Router) {
		r.Post("/", createSessionHandler(mgr))

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", getSessionHandler(mgr))
			r.Delete("/", closeSessionHandler(mgr))
			r.Get("/ws", gw.ServeConsumer)
			r.Get("/dialback", hub.ServeDialback)
		})
	})

	return r
}

type createSessionRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Adapter   string `json:"adapter,omitempty"`
	Cwd       string `json:"cwd,omitempty"`
	Model     string `json:"model,omitempty"`
}

func createSessionHandler(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		ctx, cancel := context.WithTimeout(r.Context(), restTimeout)
		defer cancel()

		rt, err := mgr.CreateSession(ctx, req.SessionID, req.Adapter, req.Cwd, req.Model)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{"sessionId": rt.Session().ID})
	}
}

func getSessionHandler(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		rt, ok := mgr.Runtime(sessionID)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, rt.Session().Snapshot())
	}
}

func closeSessionHandler(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		ctx, cancel := context.WithTimeout(r.Context(), restTimeout)
		defer cancel()

		if err := mgr.CloseSession(ctx, sessionID, "consumer_requested"); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

