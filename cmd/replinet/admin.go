package main

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/replinet/replinet/pkg/server"
	"github.com/replinet/replinet/pkg/snapshot"
	"github.com/replinet/replinet/pkg/telemetry"
)

// registryView is the read side of a server that is safe to call from
// HTTP handlers.
type registryView interface {
	Entities() []server.EntityInfo
	ConnectionInfos() []server.ConnectionInfo
	Metrics() *server.ServerMetrics
}

// adminConfig holds what the admin router serves.
type adminConfig struct {
	View     registryView
	Store    snapshot.Store      // nil when checkpoints are disabled
	Gatherer prometheus.Gatherer // nil disables /metrics
	Socket   http.Handler        // websocket endpoint
	Path     string              // websocket path
	Logger   *slog.Logger
	Tracing  []telemetry.TracingOption
}

// newAdminRouter returns the HTTP surface of serve.
func newAdminRouter(cfg adminConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(cfg.Logger))
	r.Use(telemetry.HTTPTracing(cfg.Tracing...))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		m := cfg.View.Metrics()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"connections": m.ActiveConnections,
			"entities":    m.Entities,
			"ticks":       m.Ticks,
		})
	})
	r.Get("/entities", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cfg.View.Entities())
	})
	r.Get("/connections", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cfg.View.ConnectionInfos())
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", telemetry.Handler(cfg.Gatherer))
	}

	r.Route("/snapshots", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			if cfg.Store == nil {
				writeError(w, http.StatusNotFound, "checkpoints are disabled")
				return
			}
			infos, err := cfg.Store.List(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, infos)
		})
		r.Get("/latest", func(w http.ResponseWriter, r *http.Request) {
			if cfg.Store == nil {
				writeError(w, http.StatusNotFound, "checkpoints are disabled")
				return
			}
			snap, err := snapshot.Latest(r.Context(), cfg.Store)
			switch {
			case stderrors.Is(err, snapshot.ErrNotFound):
				writeError(w, http.StatusNotFound, "no snapshot stored")
			case err != nil:
				writeError(w, http.StatusInternalServerError, err.Error())
			default:
				writeJSON(w, http.StatusOK, snap)
			}
		})
	})

	if cfg.Socket != nil {
		r.Handle(cfg.Path, cfg.Socket)
	}
	return r
}

// requestLogger logs each request at debug level.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "admin")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
