package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/p-n-ai/pai-learn/internal/platform/config"
	"github.com/p-n-ai/pai-learn/internal/platform/metrics"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		LocalStore: config.LocalStoreConfig{Path: filepath.Join(t.TempDir(), "learn.db")},
		Curriculum: config.CurriculumConfig{Path: filepath.Join("..", "..", "curriculum")},
		Entitlement: config.EntitlementConfig{
			TrialDays:     7,
			SweepInterval: time.Hour,
		},
		Progress: config.ProgressConfig{
			LoadTimeout:    time.Second,
			SaveTimeout:    time.Second,
			SessionIdleTTL: time.Minute,
		},
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := localConfig(t)
	st, err := openStores(t.Context(), cfg)
	if err != nil {
		t.Fatalf("openStores() error = %v", err)
	}
	t.Cleanup(st.close)

	a, err := newApp(cfg, st, metrics.New())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	return a
}

func TestOpenStores_LocalFallback(t *testing.T) {
	st, err := openStores(t.Context(), localConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer st.close()

	if _, ok := st.checks["localstore"]; !ok {
		t.Errorf("checks = %v, want localstore", st.checks)
	}
	if _, ok := st.checks["database"]; ok {
		t.Error("no database should be opened without a URL")
	}
}

func TestHealthEndpoints(t *testing.T) {
	mux := newTestApp(t).handler

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthz returns 200",
			path:       "/healthz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok"}`,
		},
		{
			name:       "readyz returns 200",
			path:       "/readyz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ready"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()

			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func TestSampleCurriculumServes(t *testing.T) {
	a := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/learners/demo/progress", nil)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	for _, want := range []string{`"id":"a1.1"`, `"id":"a1.2"`, `"present-tense"`} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("progress body missing %s", want)
		}
	}
	if err := a.engine.Flush(t.Context()); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
}
