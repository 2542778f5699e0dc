package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/p-n-ai/pai-learn/internal/platform/metrics"
)

func TestHandler_ExposesCounters(t *testing.T) {
	m := metrics.New()
	m.ProgressWrite("ok")
	m.AccessDecision("locked")
	m.StageSubmission(5, true)
	m.TrialStarted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`learn_progress_writes_total{result="ok"} 1`,
		`learn_access_decisions_total{reason="locked"} 1`,
		`learn_stage_submissions_total{passed="true",stage="5"} 1`,
		`learn_trials_started_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMetrics_IsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.ProgressWrite("error")
	m.AccessDecision("ok")
	m.StageSubmission(4, false)
	m.TrialStarted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
