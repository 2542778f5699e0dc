package access_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/p-n-ai/pai-learn/internal/access"
	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/entitlement"
	"github.com/p-n-ai/pai-learn/internal/platform/metrics"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/unlock"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fixedEntitlements answers every learner the same way.
type fixedEntitlements struct {
	decision entitlement.AccessDecision
	err      error
	calls    int
}

func (f *fixedEntitlements) Access(context.Context, string, time.Time) (entitlement.AccessDecision, error) {
	f.calls++
	return f.decision, f.err
}

func testCatalog(t *testing.T) *curriculum.Catalog {
	t.Helper()
	catalog, err := curriculum.NewCatalog([]curriculum.Level{
		{
			ID: "a1.1", Order: 1, Free: true,
			Totals:  curriculum.Totals{Vocabulary: 10},
			Topics:  []curriculum.Topic{{ID: "t0"}, {ID: "t1"}},
			Lessons: []curriculum.Lesson{{ID: "l0"}, {ID: "l1"}},
		},
		{
			ID: "a1.2", Order: 2,
			Totals:  curriculum.Totals{Vocabulary: 10},
			Topics:  []curriculum.Topic{{ID: "u0"}},
			Lessons: []curriculum.Lesson{{ID: "m0"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return catalog
}

func unlockedTree(catalog *curriculum.Catalog) *progress.LearnerProgress {
	tree := progress.Initialize(catalog.LevelIDs(), nil)
	for i := range 7 {
		tree.MarkLearned("a1.1", curriculum.CategoryVocabulary, fmt.Sprintf("w%d", i))
	}
	return tree
}

func TestGate_Level(t *testing.T) {
	catalog := testCatalog(t)
	fresh := progress.Initialize(catalog.LevelIDs(), nil)

	tests := []struct {
		name      string
		tree      *progress.LearnerProgress
		level     string
		hasAccess bool
		want      access.Decision
		wantCalls int
	}{
		{"free level needs no entitlement", fresh, "a1.1", false, access.Decision{Allowed: true, Reason: access.ReasonOK}, 0},
		{"locked level", fresh, "a1.2", true, access.Decision{Reason: access.ReasonLocked}, 0},
		{"unlocked paid level with access", unlockedTree(catalog), "a1.2", true, access.Decision{Allowed: true, Reason: access.ReasonOK}, 1},
		{"unlocked paid level without access", unlockedTree(catalog), "a1.2", false, access.Decision{Reason: access.ReasonSubscriptionRequired}, 1},
		{"unknown level", fresh, "c2.9", true, access.Decision{Reason: access.ReasonNotFound}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent := &fixedEntitlements{decision: entitlement.AccessDecision{HasAccess: tt.hasAccess}}
			gate := access.NewGate(catalog, unlock.NewPolicy(catalog), ent, nil)

			got, err := gate.Level(t.Context(), "u1", tt.tree, tt.level, now)
			if err != nil {
				t.Fatalf("Level() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Level() = %+v, want %+v", got, tt.want)
			}
			if ent.calls != tt.wantCalls {
				t.Errorf("entitlement calls = %d, want %d", ent.calls, tt.wantCalls)
			}
		})
	}
}

func TestGate_TopicAndLesson(t *testing.T) {
	catalog := testCatalog(t)
	ent := &fixedEntitlements{decision: entitlement.AccessDecision{HasAccess: true}}
	gate := access.NewGate(catalog, unlock.NewPolicy(catalog), ent, nil)
	tree := progress.Initialize(catalog.LevelIDs(), nil)
	ctx := t.Context()

	check := func(name string, got access.Decision, err error, want string) {
		t.Helper()
		if err != nil {
			t.Fatalf("%s: error = %v", name, err)
		}
		if got.Reason != want || got.Allowed != (want == access.ReasonOK) {
			t.Errorf("%s = %+v, want reason %s", name, got, want)
		}
	}

	d, err := gate.Topic(ctx, "u1", tree, "a1.1", 0, now)
	check("topic 0", d, err, access.ReasonOK)
	d, err = gate.Topic(ctx, "u1", tree, "a1.1", 1, now)
	check("topic 1 before topic 0 completed", d, err, access.ReasonLocked)
	d, err = gate.Topic(ctx, "u1", tree, "a1.1", 5, now)
	check("topic out of range", d, err, access.ReasonLocked)

	tree.SetTopic("a1.1", "t0", progress.TopicProgress{Completed: true, CurrentStage: progress.LastStage, Percentage: 100})
	d, err = gate.Topic(ctx, "u1", tree, "a1.1", 1, now)
	check("topic 1 after topic 0 completed", d, err, access.ReasonOK)

	d, err = gate.Lesson(ctx, "u1", tree, "a1.1", 0, now)
	check("lesson 0", d, err, access.ReasonOK)
	d, err = gate.Lesson(ctx, "u1", tree, "a1.1", 1, now)
	check("lesson 1 before lesson 0 learned", d, err, access.ReasonLocked)
	d, err = gate.Lesson(ctx, "u1", tree, "a1.2", 0, now)
	check("lesson in a locked level", d, err, access.ReasonLocked)
}

func TestGate_EntitlementError(t *testing.T) {
	catalog := testCatalog(t)
	ent := &fixedEntitlements{err: errors.New("connection refused")}
	gate := access.NewGate(catalog, unlock.NewPolicy(catalog), ent, nil)

	if _, err := gate.Level(t.Context(), "u1", unlockedTree(catalog), "a1.2", now); err == nil {
		t.Fatal("Level() should surface entitlement read failures")
	}
}

func TestGate_CountsDecisions(t *testing.T) {
	catalog := testCatalog(t)
	m := metrics.New()
	gate := access.NewGate(catalog, unlock.NewPolicy(catalog), &fixedEntitlements{}, m)
	tree := progress.Initialize(catalog.LevelIDs(), nil)

	for range 2 {
		if _, err := gate.Level(t.Context(), "u1", tree, "a1.2", now); err != nil {
			t.Fatal(err)
		}
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `learn_access_decisions_total{reason="locked"} 2`) {
		t.Errorf("locked decisions not counted:\n%s", body)
	}
}
