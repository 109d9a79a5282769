package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/aomori/sobriquet/internal/config"
	"github.com/aomori/sobriquet/internal/health"
	"github.com/aomori/sobriquet/internal/pipeline"
	"github.com/aomori/sobriquet/internal/store"
)

const testSalt = "router-test-salt"

func newTestRouter(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "router_test.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := health.NewRegistry()
	registry.Beat("pipeline", "consuming")
	p := pipeline.New(func(ctx context.Context, job *pipeline.Job) error { return nil },
		pipeline.Options{QueueSize: 4, Logger: logger})

	handler := NewRouter(Dependencies{
		Config:   config.Config{Environment: "test", ProfileIDSalt: testSalt},
		Store:    st,
		Pipeline: p,
		Health:   registry,
		Logger:   logger,
	})
	return handler, st
}

func do(t *testing.T, handler http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(method, target, nil))
	return recorder
}

func TestHealthAndReady(t *testing.T) {
	handler, _ := newTestRouter(t)

	if res := do(t, handler, http.MethodGet, "/healthz"); res.Code != http.StatusOK {
		t.Fatalf("healthz status %d", res.Code)
	}
	if res := do(t, handler, http.MethodGet, "/readyz"); res.Code != http.StatusOK {
		t.Fatalf("readyz status %d", res.Code)
	}
}

func TestInfoCarriesPipelineStats(t *testing.T) {
	handler, _ := newTestRouter(t)

	res := do(t, handler, http.MethodGet, "/api/v1/info")
	if res.Code != http.StatusOK {
		t.Fatalf("info status %d", res.Code)
	}
	var payload struct {
		Name     string         `json:"name"`
		Pipeline pipeline.Stats `json:"pipeline"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if payload.Name != "sobriquetd" {
		t.Fatalf("unexpected name %q", payload.Name)
	}
	if payload.Pipeline.Capacity != 4 {
		t.Fatalf("pipeline stats not surfaced: %+v", payload.Pipeline)
	}
}

func TestComponentHealthEndpoint(t *testing.T) {
	handler, _ := newTestRouter(t)

	res := do(t, handler, http.MethodGet, "/api/v1/health")
	if res.Code != http.StatusOK {
		t.Fatalf("health status %d", res.Code)
	}
	var snapshot health.Snapshot
	if err := json.Unmarshal(res.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot.Components) != 1 || snapshot.Components[0].Name != "pipeline" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestProfilesLookup(t *testing.T) {
	handler, st := newTestRouter(t)
	ctx := context.Background()

	profileID, err := store.GenerateProfileID(testSalt, "qq:u1000")
	if err != nil {
		t.Fatalf("derive id: %v", err)
	}
	if _, err := st.EnsureProfile(ctx, profileID, "qq:u1000", "qq", "u1000"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := st.IncrementSobriquet(ctx, profileID, "qq", "g1", "小王子"); err != nil {
		t.Fatalf("increment: %v", err)
	}

	res := do(t, handler, http.MethodGet, "/api/v1/profiles?person_key=qq:u1000&fields=sobriquets")
	if res.Code != http.StatusOK {
		t.Fatalf("lookup status %d: %s", res.Code, res.Body.String())
	}
	var profile store.Profile
	if err := json.Unmarshal(res.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.ID != profileID {
		t.Fatalf("wrong profile id %q", profile.ID)
	}
	group := store.GroupKey("qq", "g1")
	if got := profile.SobriquetsByGroup[group]; len(got) != 1 || got[0].Name != "小王子" {
		t.Fatalf("sobriquets not projected: %+v", profile.SobriquetsByGroup)
	}
	if len(profile.Accounts) != 0 {
		t.Fatalf("accounts should not be projected when fields excludes them: %+v", profile.Accounts)
	}
}

func TestProfilesLookupErrors(t *testing.T) {
	handler, _ := newTestRouter(t)

	if res := do(t, handler, http.MethodPost, "/api/v1/profiles"); res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
	if res := do(t, handler, http.MethodGet, "/api/v1/profiles"); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without keys, got %d", res.Code)
	}
	if res := do(t, handler, http.MethodGet, "/api/v1/profiles?person_key=qq:ghost"); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown profile, got %d", res.Code)
	}
}
