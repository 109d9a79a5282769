// Package httpapi exposes the admin-side, read-only HTTP surface:
// health probes, pipeline statistics, and profile lookups.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aomori/sobriquet/internal/config"
	"github.com/aomori/sobriquet/internal/health"
	"github.com/aomori/sobriquet/internal/pipeline"
	"github.com/aomori/sobriquet/internal/store"
)

type Dependencies struct {
	Config   config.Config
	Store    *store.Store
	Pipeline *pipeline.Pipeline
	Health   *health.Registry
	Logger   *slog.Logger
}

type router struct {
	deps Dependencies
}

func NewRouter(deps Dependencies) http.Handler {
	rt := &router{deps: deps}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.handleHealth)
	mux.HandleFunc("/readyz", rt.handleReady)
	mux.HandleFunc("/api/v1/info", rt.handleInfo)
	mux.HandleFunc("/api/v1/health", rt.handleComponents)
	mux.HandleFunc("/api/v1/profiles", rt.handleProfiles)
	return mux
}

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *router) handleReady(w http.ResponseWriter, req *http.Request) {
	if err := r.deps.Store.Ping(req.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not-ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (r *router) handleInfo(w http.ResponseWriter, req *http.Request) {
	payload := map[string]any{
		"name":        "sobriquetd",
		"environment": r.deps.Config.Environment,
	}
	if r.deps.Pipeline != nil {
		payload["pipeline"] = r.deps.Pipeline.Stats()
	}
	if stats, err := r.deps.Store.Stats(req.Context()); err == nil {
		payload["store"] = stats
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *router) handleComponents(w http.ResponseWriter, req *http.Request) {
	if r.deps.Health == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "health registry disabled"})
		return
	}
	writeJSON(w, http.StatusOK, r.deps.Health.Snapshot())
}

func (r *router) handleProfiles(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	personKey := strings.TrimSpace(req.URL.Query().Get("person_key"))
	profileID := strings.TrimSpace(req.URL.Query().Get("profile_id"))
	if personKey == "" && profileID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "person_key or profile_id is required"})
		return
	}
	if profileID == "" {
		derived, err := store.GenerateProfileID(r.deps.Config.ProfileIDSalt, personKey)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		profileID = derived
	}

	var fields []string
	if raw := strings.TrimSpace(req.URL.Query().Get("fields")); raw != "" {
		for _, field := range strings.Split(raw, ",") {
			if field = strings.TrimSpace(field); field != "" {
				fields = append(fields, field)
			}
		}
	}

	profile, err := r.deps.Store.GetProfile(req.Context(), profileID, fields...)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "profile not found"})
			return
		}
		r.logger().Error("profile lookup failed", "profile_id", profileID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (r *router) logger() *slog.Logger {
	if r.deps.Logger != nil {
		return r.deps.Logger
	}
	return slog.Default()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Serve runs the HTTP server until the context is cancelled, then
// shuts it down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", "error", err)
		}
		return nil
	}
}
