package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/wsession/internal/config"
	wsmw "github.com/vango-dev/wsession/pkg/middleware"
	"github.com/vango-dev/wsession/pkg/server"
)

// maxPushBody caps the request body of the push endpoints.
const maxPushBody = 1 << 20

// newRouter mounts the WebSocket endpoint and the admin API. registry is
// nil when metrics are disabled.
func newRouter(srv *server.Server, cfg config.ServerConfig, registry *prometheus.Registry, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if registry != nil {
		r.Use(wsmw.NewHTTPMetrics(
			wsmw.WithRegistry(registry),
			wsmw.WithNamespace(cfg.Metrics.Namespace),
		).Handler)
	}
	r.Use(wsmw.Tracing(wsmw.WithFilter(func(r *http.Request) bool {
		return r.URL.Path != cfg.Path && r.URL.Path != "/healthz"
	})))

	r.Get(cfg.Path, srv.HandleWebSocket)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, srv.Stats())
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			sessions := srv.Sessions()
			if sessions == nil {
				sessions = []server.SessionInfo{}
			}
			writeJSON(w, http.StatusOK, sessions)
		})

		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			info, ok := srv.Session(chi.URLParam(r, "id"))
			if !ok {
				http.NotFound(w, r)
				return
			}
			writeJSON(w, http.StatusOK, info)
		})

		r.Post("/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
			payload, ok := readPush(w, r)
			if !ok {
				return
			}
			if !srv.SendToSession(chi.URLParam(r, "id"), payload) {
				http.NotFound(w, r)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		})

		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			reason := r.URL.Query().Get("reason")
			if reason == "" {
				reason = "closed by operator"
			}
			if !srv.CloseSession(chi.URLParam(r, "id"), reason) {
				http.NotFound(w, r)
				return
			}
			logger.Info("session closed via api",
				"session_id", chi.URLParam(r, "id"),
				"request_id", middleware.GetReqID(r.Context()))
			w.WriteHeader(http.StatusNoContent)
		})
	})

	r.Post("/broadcast", func(w http.ResponseWriter, r *http.Request) {
		payload, ok := readPush(w, r)
		if !ok {
			return
		}
		n := srv.Broadcast(payload, r.URL.Query()["exclude"]...)
		writeJSON(w, http.StatusOK, map[string]int{"delivered": n})
	})

	if registry != nil {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	return r
}

func readPush(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return payload, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
