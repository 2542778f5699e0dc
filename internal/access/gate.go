// Package access combines the unlock rules with the learner's entitlement
// into a single yes/no answer for a piece of content.
package access

import (
	"context"
	"fmt"
	"time"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/entitlement"
	"github.com/p-n-ai/pai-learn/internal/platform/metrics"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/unlock"
)

// Reasons a decision was reached.
const (
	ReasonOK                   = "ok"
	ReasonLocked               = "locked"
	ReasonSubscriptionRequired = "subscription_required"
	ReasonNotFound             = "not_found"
)

// Decision is the gate's answer for one piece of content.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Entitlements computes a learner's access decision.
type Entitlements interface {
	Access(ctx context.Context, learnerID string, now time.Time) (entitlement.AccessDecision, error)
}

// Gate opens content that is unlocked and either free or covered by the
// learner's trial or subscription.
type Gate struct {
	catalog      *curriculum.Catalog
	policy       *unlock.Policy
	entitlements Entitlements
	metrics      *metrics.Metrics
}

func NewGate(catalog *curriculum.Catalog, policy *unlock.Policy, ent Entitlements, m *metrics.Metrics) *Gate {
	return &Gate{catalog: catalog, policy: policy, entitlements: ent, metrics: m}
}

// Level decides whether the learner may open a level.
func (g *Gate) Level(ctx context.Context, learnerID string, tree *progress.LearnerProgress, levelID string, now time.Time) (Decision, error) {
	return g.decide(ctx, learnerID, levelID, now, func(level curriculum.Level) bool {
		return g.policy.IsLevelUnlocked(tree, level.ID)
	})
}

// Topic decides whether the learner may open topic idx of a level.
func (g *Gate) Topic(ctx context.Context, learnerID string, tree *progress.LearnerProgress, levelID string, idx int, now time.Time) (Decision, error) {
	return g.decide(ctx, learnerID, levelID, now, func(level curriculum.Level) bool {
		return g.policy.IsTopicUnlocked(tree, level.ID, idx)
	})
}

// Lesson decides whether the learner may open reading lesson idx of a level.
func (g *Gate) Lesson(ctx context.Context, learnerID string, tree *progress.LearnerProgress, levelID string, idx int, now time.Time) (Decision, error) {
	return g.decide(ctx, learnerID, levelID, now, func(level curriculum.Level) bool {
		return g.policy.IsLevelUnlocked(tree, level.ID) && g.policy.IsLessonUnlocked(tree, level.ID, idx)
	})
}

func (g *Gate) decide(ctx context.Context, learnerID, levelID string, now time.Time, unlocked func(curriculum.Level) bool) (Decision, error) {
	level, ok := g.catalog.Level(levelID)
	if !ok {
		return g.record(Decision{Reason: ReasonNotFound}), nil
	}
	if !unlocked(level) {
		return g.record(Decision{Reason: ReasonLocked}), nil
	}
	if level.Free {
		return g.record(Decision{Allowed: true, Reason: ReasonOK}), nil
	}

	ent, err := g.entitlements.Access(ctx, learnerID, now)
	if err != nil {
		return Decision{}, fmt.Errorf("access %s: %w", levelID, err)
	}
	if !ent.HasAccess {
		return g.record(Decision{Reason: ReasonSubscriptionRequired}), nil
	}
	return g.record(Decision{Allowed: true, Reason: ReasonOK}), nil
}

func (g *Gate) record(d Decision) Decision {
	g.metrics.AccessDecision(d.Reason)
	return d
}
