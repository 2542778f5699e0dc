package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/engine"
	"github.com/p-n-ai/pai-learn/internal/entitlement"
	"github.com/p-n-ai/pai-learn/internal/platform/metrics"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/server"
)

type checkFunc func(context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func newHandler(t *testing.T, checks map[string]server.Checker) http.Handler {
	t.Helper()
	catalog, err := curriculum.NewCatalog([]curriculum.Level{
		{
			ID: "a1.1", Order: 1, Free: true,
			Totals: curriculum.Totals{Vocabulary: 4},
			Topics: []curriculum.Topic{{
				ID: "t0",
				Stages: []curriculum.StageContent{
					{Stage: 1, Title: "Introduction"},
					{Stage: 4, Exercises: []curriculum.ExerciseSpec{
						{Type: "multiple_choice", Options: []string{"a", "b"}, CorrectIndex: 1},
					}},
				},
			}},
		},
		{ID: "a1.2", Order: 2, Totals: curriculum.Totals{Vocabulary: 4}},
	})
	if err != nil {
		t.Fatal(err)
	}

	m := metrics.New()
	repo := progress.NewMemoryRepository()
	writer := progress.NewWriter(repo, m, time.Second)
	eng := engine.New(engine.Config{
		Catalog: catalog,
		Sessions: progress.NewSessions(progress.SessionsConfig{
			Repository: repo,
			Writer:     writer,
			LevelIDs:   catalog.LevelIDs(),
		}),
		Writer: writer,
		Entitlements: entitlement.NewService(entitlement.ServiceConfig{
			Repository: entitlement.NewMemoryRepository(),
			Metrics:    m,
		}),
		Metrics: m,
	})
	return server.New(eng, m, checks).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	h := newHandler(t, nil)

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
			rec := do(t, h, http.MethodGet, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	h := newHandler(t, map[string]server.Checker{
		"database": checkFunc(func(context.Context) error { return errors.New("connection refused") }),
		"cache":    checkFunc(func(context.Context) error { return nil }),
	})

	rec := do(t, h, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "database") || strings.Contains(rec.Body.String(), "cache") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHandler(t, nil)
	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("status = %d, body = %.200s", rec.Code, rec.Body.String())
	}
}

func TestItemsAndProgress(t *testing.T) {
	h := newHandler(t, nil)

	rec := do(t, h, http.MethodPost, "/v1/learners/u1/items",
		`{"level":"a1.1","category":"vocabulary","item":"hus","learned":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST items status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var item engine.ItemResult
	if err := json.NewDecoder(rec.Body).Decode(&item); err != nil {
		t.Fatal(err)
	}
	if !item.Changed || item.LevelPercentage != 25 {
		t.Errorf("item = %+v", item)
	}

	rec = do(t, h, http.MethodGet, "/v1/learners/u1/progress", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET progress status = %d", rec.Code)
	}
	var view engine.ProgressView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if view.Stats.Vocabulary != 1 || len(view.Levels) != 2 || view.Levels[0].Percentage != 25 {
		t.Errorf("view = %+v", view)
	}
	if !view.Tree.IsLearned("a1.1", curriculum.CategoryVocabulary, "hus") {
		t.Error("tree should carry the learned item")
	}
}

func TestTopicFlow(t *testing.T) {
	h := newHandler(t, nil)

	for range 3 {
		if rec := do(t, h, http.MethodPost, "/v1/learners/u1/topics/a1.1/t0/advance", ""); rec.Code != http.StatusOK {
			t.Fatalf("advance status = %d, body = %s", rec.Code, rec.Body.String())
		}
	}

	rec := do(t, h, http.MethodPost, "/v1/learners/u1/topics/a1.1/t0/submit", `{"stage":4,"answers":[{"index":1}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res engine.SubmitResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if !res.Outcome.Graded.Passed || !res.Outcome.Advanced || res.Topic.Progress.CurrentStage != 5 {
		t.Errorf("result = %+v", res)
	}

	rec = do(t, h, http.MethodGet, "/v1/learners/u1/topics/a1.1/t0", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"current_stage":5`) {
		t.Errorf("topic status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAccessAndSubscriptions(t *testing.T) {
	h := newHandler(t, nil)

	rec := do(t, h, http.MethodGet, "/v1/learners/u1/access", "")
	var d entitlement.AccessDecision
	if err := json.NewDecoder(rec.Body).Decode(&d); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || !d.InTrial || d.TrialDaysRemaining != 7 {
		t.Errorf("access status = %d, decision = %+v", rec.Code, d)
	}

	rec = do(t, h, http.MethodGet, "/v1/learners/u1/access/a1.2", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"reason":"locked"`) {
		t.Errorf("level access status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/v1/learners/u1/subscriptions", `{"plan":"monthly","price_paid":9900}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("subscribe status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var sub entitlement.SubscriptionRecord
	if err := json.NewDecoder(rec.Body).Decode(&sub); err != nil {
		t.Fatal(err)
	}
	if sub.PlanType != entitlement.PlanMonthly || sub.PricePaid != 9900 || sub.ID == "" {
		t.Errorf("sub = %+v", sub)
	}
}

func TestErrorStatuses(t *testing.T) {
	h := newHandler(t, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"malformed json", http.MethodPost, "/v1/learners/u1/items", `{"level":`, http.StatusBadRequest},
		{"bad category", http.MethodPost, "/v1/learners/u1/items", `{"level":"a1.1","category":"verbs","item":"x","learned":true}`, http.StatusBadRequest},
		{"unknown level", http.MethodPost, "/v1/learners/u1/items", `{"level":"z9","category":"vocabulary","item":"x","learned":true}`, http.StatusNotFound},
		{"unknown topic", http.MethodPost, "/v1/learners/u1/topics/a1.1/zz/advance", "", http.StatusNotFound},
		{"unknown level access", http.MethodGet, "/v1/learners/u1/access/z9", "", http.StatusNotFound},
		{"stage not reached", http.MethodPost, "/v1/learners/u1/topics/a1.1/t0/submit", `{"stage":5,"answers":[]}`, http.StatusForbidden},
		{"content stage submit", http.MethodPost, "/v1/learners/u1/topics/a1.1/t0/submit", `{"stage":1,"answers":[]}`, http.StatusBadRequest},
		{"invalid plan", http.MethodPost, "/v1/learners/u1/subscriptions", `{"plan":"weekly","price_paid":1}`, http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/v1/learners/u1/progress", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusMethodNotAllowed && !strings.Contains(rec.Body.String(), `"error"`) {
				t.Errorf("body = %s, want an error field", rec.Body.String())
			}
		})
	}
}
