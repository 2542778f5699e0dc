// Package stage runs the five-stage progression of a topic: three content
// stages the learner reads through, then two practice stages that need a
// passing submission to move on.
package stage

import (
	"errors"
	"fmt"
	"time"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/exercise"
	"github.com/p-n-ai/pai-learn/internal/progress"
)

// Stage is one phase of a topic.
type Stage int

const (
	Introduction   Stage = 1
	Examples       Stage = 2
	RuleBreakdown  Stage = 3
	GuidedPractice Stage = 4
	Mastery        Stage = 5
)

// All lists the stages in order.
var All = []Stage{Introduction, Examples, RuleBreakdown, GuidedPractice, Mastery}

func (s Stage) String() string {
	switch s {
	case Introduction:
		return "introduction"
	case Examples:
		return "examples"
	case RuleBreakdown:
		return "rule_breakdown"
	case GuidedPractice:
		return "guided_practice"
	case Mastery:
		return "mastery"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

func (s Stage) Valid() bool { return s >= Introduction && s <= Mastery }

// IsPractice reports whether leaving the stage needs a passing submission.
func (s Stage) IsPractice() bool { return s == GuidedPractice || s == Mastery }

var (
	ErrInvalidStage       = errors.New("invalid stage")
	ErrStageLocked        = errors.New("stage is locked")
	ErrNeedsSubmission    = errors.New("stage needs a passing submission")
	ErrNotPractice        = errors.New("stage takes no submissions")
	ErrContentUnavailable = errors.New("stage content unavailable")
)

// Status describes a stage from the learner's point of view.
type Status string

const (
	StatusLocked             Status = "locked"
	StatusAvailable          Status = "available"
	StatusPassed             Status = "passed"
	StatusContentUnavailable Status = "content_unavailable"
)

// Percentage derives a topic's percentage from its stage state: 100 once
// completed, otherwise 20 for each stage already behind the learner.
func Percentage(tp progress.TopicProgress) int {
	if tp.Completed {
		return 100
	}
	return (tp.CurrentStage - int(Introduction)) * 20
}

// Visit returns tp as seen on first entry to the topic.
func Visit(tp progress.TopicProgress) progress.TopicProgress {
	if !Stage(tp.CurrentStage).Valid() {
		tp.CurrentStage = int(Introduction)
	}
	tp.Percentage = Percentage(tp)
	return tp
}

// Advance moves past the current content stage. Practice stages only move
// through Submit.
func Advance(tp progress.TopicProgress) (progress.TopicProgress, error) {
	tp = Visit(tp)
	cur := Stage(tp.CurrentStage)
	if cur.IsPractice() {
		return tp, fmt.Errorf("%s: %w", cur, ErrNeedsSubmission)
	}
	tp.CurrentStage++
	tp.Percentage = Percentage(tp)
	return tp, nil
}

// Outcome is the result of grading one practice submission.
type Outcome struct {
	Stage     Stage           `json:"stage"`
	Graded    exercise.Graded `json:"graded"`
	Advanced  bool            `json:"advanced"`
	Completed bool            `json:"completed"`
}

// Submit grades subs against the exercise set of a practice stage. The
// latest score is always recorded. A pass on the current stage moves the
// learner on; a pass on Mastery completes the topic. A fail changes nothing
// else and may be retried without limit. Completion is never undone.
func Submit(tp progress.TopicProgress, topic curriculum.Topic, s Stage, subs []exercise.Submission, now time.Time) (progress.TopicProgress, Outcome, error) {
	tp = Visit(tp)
	out := Outcome{Stage: s}

	switch {
	case !s.Valid():
		return tp, out, fmt.Errorf("%d: %w", int(s), ErrInvalidStage)
	case !s.IsPractice():
		return tp, out, fmt.Errorf("%s: %w", s, ErrNotPractice)
	case int(s) > tp.CurrentStage:
		return tp, out, fmt.Errorf("%s: %w", s, ErrStageLocked)
	}

	content, ok := topic.Content(int(s))
	if !ok || len(content.ExerciseSet()) == 0 {
		return tp, out, fmt.Errorf("%s: %w", s, ErrContentUnavailable)
	}

	out.Graded = exercise.Grade(content.ExerciseSet(), subs)
	tp.Score = out.Graded.Score

	if out.Graded.Passed {
		switch {
		case s == Mastery:
			if !tp.Completed {
				at := now
				tp.CompletedAt = &at
				out.Completed = true
			}
			tp.Completed = true
			tp.CurrentStage = int(Mastery)
		case int(s) == tp.CurrentStage:
			tp.CurrentStage++
			out.Advanced = true
		}
	}
	tp.Percentage = Percentage(tp)
	return tp, out, nil
}

// StatusOf reports the status of one stage. Missing content only affects the
// stage it belongs to.
func StatusOf(tp progress.TopicProgress, topic curriculum.Topic, s Stage) Status {
	tp = Visit(tp)
	if !s.Valid() || int(s) > tp.CurrentStage {
		return StatusLocked
	}
	content, ok := topic.Content(int(s))
	if !ok || (s.IsPractice() && len(content.ExerciseSet()) == 0) {
		return StatusContentUnavailable
	}
	if int(s) < tp.CurrentStage || (s == Mastery && tp.Completed) {
		return StatusPassed
	}
	return StatusAvailable
}

// State pairs a stage with its status.
type State struct {
	Stage  Stage  `json:"stage"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// States reports every stage of the topic in order.
func States(tp progress.TopicProgress, topic curriculum.Topic) []State {
	out := make([]State, 0, len(All))
	for _, s := range All {
		out = append(out, State{Stage: s, Name: s.String(), Status: StatusOf(tp, topic, s)})
	}
	return out
}
