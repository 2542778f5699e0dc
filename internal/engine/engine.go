// Package engine ties learner sessions, the stage controller, the access
// gate and the event log into the operations the API exposes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-learn/internal/access"
	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/entitlement"
	"github.com/p-n-ai/pai-learn/internal/events"
	"github.com/p-n-ai/pai-learn/internal/exercise"
	"github.com/p-n-ai/pai-learn/internal/platform/metrics"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/stage"
	"github.com/p-n-ai/pai-learn/internal/unlock"
)

var (
	ErrUnknownLevel         = errors.New("unknown level")
	ErrUnknownTopic         = errors.New("unknown topic")
	ErrUnknownItem          = errors.New("unknown item")
	ErrInvalidCategory      = errors.New("invalid category")
	ErrTopicLocked          = errors.New("topic is locked")
	ErrSubscriptionRequired = errors.New("subscription required")
)

// Config holds the engine's collaborators.
type Config struct {
	Catalog      *curriculum.Catalog
	Sessions     *progress.Sessions
	Writer       *progress.Writer
	Entitlements *entitlement.Service
	Events       events.Logger
	Metrics      *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine runs learner operations against the catalog.
type Engine struct {
	catalog      *curriculum.Catalog
	sessions     *progress.Sessions
	writer       *progress.Writer
	entitlements *entitlement.Service
	policy       *unlock.Policy
	gate         *access.Gate
	events       events.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func New(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ev := cfg.Events
	if ev == nil {
		ev = events.NopLogger{}
	}
	policy := unlock.NewPolicy(cfg.Catalog)
	return &Engine{
		catalog:      cfg.Catalog,
		sessions:     cfg.Sessions,
		writer:       cfg.Writer,
		entitlements: cfg.Entitlements,
		policy:       policy,
		gate:         access.NewGate(cfg.Catalog, policy, cfg.Entitlements, cfg.Metrics),
		events:       ev,
		metrics:      cfg.Metrics,
		now:          now,
	}
}

// ProgressView is a learner's tree with everything derived from it.
type ProgressView struct {
	LearnerID string                    `json:"learner_id"`
	Tree      *progress.LearnerProgress `json:"progress"`
	Stats     progress.Stats            `json:"stats"`
	Levels    []unlock.LevelState       `json:"levels"`
}

// Progress returns the learner's current progress.
func (e *Engine) Progress(ctx context.Context, learnerID string) (ProgressView, error) {
	sess, err := e.sessions.Open(ctx, learnerID)
	if err != nil {
		return ProgressView{}, err
	}
	view := ProgressView{LearnerID: learnerID}
	sess.View(func(tree *progress.LearnerProgress) {
		view.Tree = tree.Clone()
		view.Stats = progress.TotalStats(tree)
		view.Levels = e.policy.Snapshot(tree)
	})
	return view, nil
}

// ItemChange marks or unmarks one learned item.
type ItemChange struct {
	Level    string              `json:"level"`
	Category curriculum.Category `json:"category"`
	Item     string              `json:"item"`
	Learned  bool                `json:"learned"`
}

// ItemResult reports the effect of an ItemChange.
type ItemResult struct {
	Changed         bool `json:"changed"`
	LevelPercentage int  `json:"level_percentage"`
	NextUnlocked    bool `json:"next_level_unlocked"`
}

// SetItem applies an ItemChange. Repeating a change is a no-op.
func (e *Engine) SetItem(ctx context.Context, learnerID string, change ItemChange) (ItemResult, error) {
	level, ok := e.catalog.Level(change.Level)
	if !ok {
		return ItemResult{}, fmt.Errorf("%s: %w", change.Level, ErrUnknownLevel)
	}
	if !change.Category.Valid() {
		return ItemResult{}, fmt.Errorf("%q: %w", change.Category, ErrInvalidCategory)
	}
	if change.Item == "" {
		return ItemResult{}, fmt.Errorf("item is required: %w", ErrUnknownItem)
	}
	if change.Category == curriculum.CategoryReadingLessons && !hasLesson(level, change.Item) {
		return ItemResult{}, fmt.Errorf("lesson %s: %w", change.Item, ErrUnknownItem)
	}

	sess, err := e.sessions.Open(ctx, learnerID)
	if err != nil {
		return ItemResult{}, err
	}

	var res ItemResult
	eventType := events.ItemUnlearned
	if change.Learned {
		eventType = events.ItemLearned
		res.Changed = sess.MarkLearned(level.ID, change.Category, change.Item)
	} else {
		res.Changed = sess.UnmarkLearned(level.ID, change.Category, change.Item)
	}
	res.LevelPercentage = sess.LevelPercentage(level.ID, level.Totals)
	res.NextUnlocked = res.LevelPercentage >= unlock.Threshold

	if res.Changed {
		events.Emit(ctx, e.events, events.Event{
			LearnerID: learnerID,
			Type:      eventType,
			Data: map[string]any{
				"level":    level.ID,
				"category": string(change.Category),
				"item":     change.Item,
			},
			CreatedAt: e.now(),
		})
	}
	return res, nil
}

func hasLesson(level curriculum.Level, id string) bool {
	for _, l := range level.Lessons {
		if l.ID == id {
			return true
		}
	}
	return false
}

// TopicView is one topic's stage state.
type TopicView struct {
	Level    string                 `json:"level"`
	Topic    string                 `json:"topic"`
	Progress progress.TopicProgress `json:"progress"`
	Stages   []stage.State          `json:"stages"`
}

// Topic returns the learner's state in a topic without changing it.
func (e *Engine) Topic(ctx context.Context, learnerID, levelID, topicID string) (TopicView, error) {
	topic, _, err := e.lookupTopic(levelID, topicID)
	if err != nil {
		return TopicView{}, err
	}
	sess, err := e.sessions.Open(ctx, learnerID)
	if err != nil {
		return TopicView{}, err
	}
	return topicView(levelID, topic, stage.Visit(sess.Topic(levelID, topicID))), nil
}

// AdvanceTopic moves the learner past the current content stage of an
// unlocked topic.
func (e *Engine) AdvanceTopic(ctx context.Context, learnerID, levelID, topicID string) (TopicView, error) {
	topic, sess, err := e.openTopic(ctx, learnerID, levelID, topicID)
	if err != nil {
		return TopicView{}, err
	}

	var advanceErr error
	tp, changed := sess.UpdateTopic(levelID, topicID, func(cur progress.TopicProgress) progress.TopicProgress {
		next, err := stage.Advance(cur)
		if err != nil {
			advanceErr = err
			return cur
		}
		return next
	})
	if advanceErr != nil {
		return TopicView{}, advanceErr
	}

	if changed {
		events.Emit(ctx, e.events, events.Event{
			LearnerID: learnerID,
			Type:      events.StageAdvanced,
			Data:      map[string]any{"level": levelID, "topic": topicID, "stage": tp.CurrentStage},
			CreatedAt: e.now(),
		})
	}
	return topicView(levelID, topic, tp), nil
}

// SubmitResult is the graded outcome of a submission with the topic state
// after it.
type SubmitResult struct {
	Outcome stage.Outcome `json:"outcome"`
	Topic   TopicView     `json:"topic"`
}

// SubmitStage grades answers against a practice stage of an unlocked topic.
func (e *Engine) SubmitStage(ctx context.Context, learnerID, levelID, topicID string, s stage.Stage, answers []exercise.Answer) (SubmitResult, error) {
	topic, sess, err := e.openTopic(ctx, learnerID, levelID, topicID)
	if err != nil {
		return SubmitResult{}, err
	}

	at := e.now()
	var (
		out       stage.Outcome
		submitErr error
	)
	tp, _ := sess.UpdateTopic(levelID, topicID, func(cur progress.TopicProgress) progress.TopicProgress {
		var subs []exercise.Submission
		if content, ok := topic.Content(int(s)); ok {
			subs = exercise.Submissions(content.ExerciseSet(), answers)
		}
		next, o, err := stage.Submit(cur, topic, s, subs, at)
		if err != nil {
			submitErr = err
			return cur
		}
		out = o
		return next
	})
	if submitErr != nil {
		return SubmitResult{}, submitErr
	}

	e.metrics.StageSubmission(int(s), out.Graded.Passed)
	slog.Info("stage submitted",
		"learner_id", learnerID,
		"level", levelID,
		"topic", topicID,
		"stage", s.String(),
		"score", out.Graded.Score,
		"passed", out.Graded.Passed,
	)
	e.emitSubmission(ctx, learnerID, levelID, topicID, out, tp, at)
	return SubmitResult{Outcome: out, Topic: topicView(levelID, topic, tp)}, nil
}

func (e *Engine) emitSubmission(ctx context.Context, learnerID, levelID, topicID string, out stage.Outcome, tp progress.TopicProgress, at time.Time) {
	emit := func(eventType, key string, value any) {
		events.Emit(ctx, e.events, events.Event{
			LearnerID: learnerID,
			Type:      eventType,
			Data:      map[string]any{"level": levelID, "topic": topicID, key: value},
			CreatedAt: at,
		})
	}

	events.Emit(ctx, e.events, events.Event{
		LearnerID: learnerID,
		Type:      events.StageSubmitted,
		Data: map[string]any{
			"level":  levelID,
			"topic":  topicID,
			"stage":  int(out.Stage),
			"score":  out.Graded.Score,
			"passed": out.Graded.Passed,
		},
		CreatedAt: at,
	})
	if out.Advanced {
		emit(events.StageAdvanced, "stage", tp.CurrentStage)
	}
	if out.Completed {
		emit(events.TopicCompleted, "score", tp.Score)
	}
}

// Access returns the learner's entitlement decision.
func (e *Engine) Access(ctx context.Context, learnerID string) (entitlement.AccessDecision, error) {
	return e.entitlements.Access(ctx, learnerID, e.now())
}

// LevelAccess decides whether the learner may open a level.
func (e *Engine) LevelAccess(ctx context.Context, learnerID, levelID string) (access.Decision, error) {
	if _, ok := e.catalog.Level(levelID); !ok {
		return access.Decision{}, fmt.Errorf("%s: %w", levelID, ErrUnknownLevel)
	}
	sess, err := e.sessions.Open(ctx, learnerID)
	if err != nil {
		return access.Decision{}, err
	}
	return e.gate.Level(ctx, learnerID, sess.Snapshot(), levelID, e.now())
}

// Subscribe records a purchase confirmed by the client.
func (e *Engine) Subscribe(ctx context.Context, learnerID, plan string, pricePaid int64) (entitlement.SubscriptionRecord, error) {
	p, err := entitlement.ParsePlan(plan)
	if err != nil {
		return entitlement.SubscriptionRecord{}, err
	}
	return e.entitlements.Subscribe(ctx, learnerID, p, pricePaid, e.now())
}

// Flush waits for queued progress writes to finish.
func (e *Engine) Flush(ctx context.Context) error {
	if e.writer == nil {
		return nil
	}
	return e.writer.Flush(ctx)
}

func (e *Engine) lookupTopic(levelID, topicID string) (curriculum.Topic, int, error) {
	if _, ok := e.catalog.Level(levelID); !ok {
		return curriculum.Topic{}, 0, fmt.Errorf("%s: %w", levelID, ErrUnknownLevel)
	}
	topic, idx, ok := e.catalog.Topic(levelID, topicID)
	if !ok {
		return curriculum.Topic{}, 0, fmt.Errorf("%s/%s: %w", levelID, topicID, ErrUnknownTopic)
	}
	return topic, idx, nil
}

// openTopic resolves the topic, opens the session and checks the gate.
func (e *Engine) openTopic(ctx context.Context, learnerID, levelID, topicID string) (curriculum.Topic, *progress.Session, error) {
	topic, idx, err := e.lookupTopic(levelID, topicID)
	if err != nil {
		return curriculum.Topic{}, nil, err
	}
	sess, err := e.sessions.Open(ctx, learnerID)
	if err != nil {
		return curriculum.Topic{}, nil, err
	}

	d, err := e.gate.Topic(ctx, learnerID, sess.Snapshot(), levelID, idx, e.now())
	if err != nil {
		return curriculum.Topic{}, nil, err
	}
	switch d.Reason {
	case access.ReasonOK:
		return topic, sess, nil
	case access.ReasonSubscriptionRequired:
		return curriculum.Topic{}, nil, fmt.Errorf("%s/%s: %w", levelID, topicID, ErrSubscriptionRequired)
	default:
		return curriculum.Topic{}, nil, fmt.Errorf("%s/%s: %w", levelID, topicID, ErrTopicLocked)
	}
}

func topicView(levelID string, topic curriculum.Topic, tp progress.TopicProgress) TopicView {
	return TopicView{
		Level:    levelID,
		Topic:    topic.ID,
		Progress: tp,
		Stages:   stage.States(tp, topic),
	}
}
