package stage_test

import (
	"errors"
	"testing"
	"time"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/exercise"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/stage"
)

var now = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

func mc(correct int) curriculum.ExerciseSpec {
	return curriculum.ExerciseSpec{Type: "multiple_choice", Options: []string{"a", "b", "c"}, CorrectIndex: correct}
}

// testTopic has no Examples content, one guided practice exercise and five
// mastery exercises whose correct answers are all index 1.
func testTopic(t *testing.T) curriculum.Topic {
	t.Helper()
	catalog, err := curriculum.NewCatalog([]curriculum.Level{{
		ID: "a1.1",
		Topics: []curriculum.Topic{{
			ID: "present-tense",
			Stages: []curriculum.StageContent{
				{Stage: 1, Title: "Introduction"},
				{Stage: 3, Title: "Rules"},
				{Stage: 4, Exercises: []curriculum.ExerciseSpec{
					{Type: "translation", AcceptableAnswers: []string{"ja"}},
				}},
				{Stage: 5, Exercises: []curriculum.ExerciseSpec{mc(1), mc(1), mc(1), mc(1), mc(1)}},
			},
		}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	topic, _, ok := catalog.Topic("a1.1", "present-tense")
	if !ok {
		t.Fatal("topic missing")
	}
	return topic
}

func choices(idx ...int) []exercise.Submission {
	out := make([]exercise.Submission, len(idx))
	for i, v := range idx {
		out[i] = exercise.ChoiceSubmission{Index: v}
	}
	return out
}

func atStage(s stage.Stage) progress.TopicProgress {
	tp := progress.NewTopicProgress()
	tp.CurrentStage = int(s)
	return tp
}

func TestVisit_DefaultsToIntroduction(t *testing.T) {
	tp := stage.Visit(progress.TopicProgress{})
	if tp.CurrentStage != int(stage.Introduction) || tp.Percentage != 0 {
		t.Errorf("Visit() = %+v, want stage 1 at 0%%", tp)
	}
}

func TestAdvance_ContentStages(t *testing.T) {
	tp := progress.NewTopicProgress()
	for want := 2; want <= 4; want++ {
		var err error
		tp, err = stage.Advance(tp)
		if err != nil {
			t.Fatalf("Advance() to %d error = %v", want, err)
		}
		if tp.CurrentStage != want || tp.Percentage != (want-1)*20 {
			t.Fatalf("after Advance() = %+v, want stage %d", tp, want)
		}
	}

	if _, err := stage.Advance(tp); !errors.Is(err, stage.ErrNeedsSubmission) {
		t.Errorf("Advance() from guided practice error = %v, want ErrNeedsSubmission", err)
	}
}

func TestSubmit_PassingMasteryCompletesTopic(t *testing.T) {
	topic := testTopic(t)

	tp, out, err := stage.Submit(atStage(stage.Mastery), topic, stage.Mastery, choices(1, 1, 1, 1, 0), now)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if out.Graded.Score != 80 || !out.Graded.Passed {
		t.Errorf("graded = %+v, want score 80 passed", out.Graded)
	}
	if !tp.Completed || tp.Percentage != 100 || tp.CurrentStage != 5 || tp.Score != 80 {
		t.Errorf("topic = %+v, want completed at 100%%", tp)
	}
	if tp.CompletedAt == nil || !tp.CompletedAt.Equal(now) {
		t.Errorf("CompletedAt = %v, want %v", tp.CompletedAt, now)
	}
	if !out.Completed {
		t.Error("outcome should report the completion")
	}
}

func TestSubmit_FailKeepsStageAndRecordsLatestScore(t *testing.T) {
	topic := testTopic(t)
	start := atStage(stage.Mastery)

	tp, out, err := stage.Submit(start, topic, stage.Mastery, choices(1, 1, 0, 0, 0), now)
	if err != nil {
		t.Fatal(err)
	}
	if out.Graded.Passed || tp.Completed || tp.CurrentStage != 5 || tp.Score != 40 {
		t.Errorf("after fail topic = %+v, graded = %+v", tp, out.Graded)
	}

	// Retry, still failing with a lower score: the latest score wins.
	tp, _, err = stage.Submit(tp, topic, stage.Mastery, choices(0, 0, 0, 0, 0), now)
	if err != nil {
		t.Fatal(err)
	}
	if tp.Score != 0 {
		t.Errorf("score = %d, want latest 0", tp.Score)
	}
}

func TestSubmit_ThresholdBoundary(t *testing.T) {
	topic := testTopic(t)

	// 3 of 5 is 60: fail. 4 of 5 is 80: pass.
	tp, _, _ := stage.Submit(atStage(stage.Mastery), topic, stage.Mastery, choices(1, 1, 1, 0, 0), now)
	if tp.Completed {
		t.Error("60 should not pass")
	}
	tp, _, _ = stage.Submit(tp, topic, stage.Mastery, choices(1, 1, 1, 1, 0), now)
	if !tp.Completed {
		t.Error("80 should pass")
	}
}

func TestSubmit_CompletionIsMonotonic(t *testing.T) {
	topic := testTopic(t)
	tp, _, _ := stage.Submit(atStage(stage.Mastery), topic, stage.Mastery, choices(1, 1, 1, 1, 1), now)

	later := now.Add(time.Hour)
	tp, out, err := stage.Submit(tp, topic, stage.Mastery, choices(0, 0, 0, 0, 0), later)
	if err != nil {
		t.Fatal(err)
	}
	if !tp.Completed || tp.Percentage != 100 || !tp.CompletedAt.Equal(now) {
		t.Errorf("failed retry undid completion: %+v", tp)
	}
	if out.Completed {
		t.Error("retry should not report a fresh completion")
	}
}

func TestSubmit_GuidedPracticeAdvances(t *testing.T) {
	topic := testTopic(t)

	tp, out, err := stage.Submit(atStage(stage.GuidedPractice), topic, stage.GuidedPractice,
		[]exercise.Submission{exercise.TextSubmission{Text: " Ja "}}, now)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Advanced || tp.CurrentStage != 5 || tp.Percentage != 80 || tp.Completed {
		t.Errorf("after guided practice pass = %+v, outcome %+v", tp, out)
	}
}

func TestSubmit_Errors(t *testing.T) {
	topic := testTopic(t)
	noPractice := curriculum.Topic{ID: "empty"}

	tests := []struct {
		name  string
		tp    progress.TopicProgress
		topic curriculum.Topic
		stage stage.Stage
		want  error
	}{
		{"invalid stage", atStage(stage.Mastery), topic, 9, stage.ErrInvalidStage},
		{"content stage", atStage(stage.Mastery), topic, stage.Examples, stage.ErrNotPractice},
		{"locked stage", atStage(stage.GuidedPractice), topic, stage.Mastery, stage.ErrStageLocked},
		{"no exercises", atStage(stage.Mastery), noPractice, stage.Mastery, stage.ErrContentUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := stage.Submit(tt.tp, tt.topic, tt.stage, nil, now)
			if !errors.Is(err, tt.want) {
				t.Errorf("Submit() error = %v, want %v", err, tt.want)
			}
			if got.CurrentStage != tt.tp.CurrentStage || got.Completed {
				t.Errorf("rejected submission changed state: %+v", got)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	topic := testTopic(t)
	tp := atStage(stage.GuidedPractice)

	tests := []struct {
		stage stage.Stage
		want  stage.Status
	}{
		{stage.Introduction, stage.StatusPassed},
		{stage.Examples, stage.StatusContentUnavailable},
		{stage.RuleBreakdown, stage.StatusPassed},
		{stage.GuidedPractice, stage.StatusAvailable},
		{stage.Mastery, stage.StatusLocked},
		{0, stage.StatusLocked},
	}
	for _, tt := range tests {
		t.Run(tt.stage.String(), func(t *testing.T) {
			if got := stage.StatusOf(tp, topic, tt.stage); got != tt.want {
				t.Errorf("StatusOf(%s) = %s, want %s", tt.stage, got, tt.want)
			}
		})
	}

	done, _, _ := stage.Submit(atStage(stage.Mastery), topic, stage.Mastery, choices(1, 1, 1, 1, 1), now)
	states := stage.States(done, topic)
	if len(states) != 5 || states[4].Status != stage.StatusPassed {
		t.Errorf("States() after completion = %+v", states)
	}
}

func TestAdvance_MissingContentDoesNotBlock(t *testing.T) {
	topic := testTopic(t)
	tp := atStage(stage.Examples)

	if stage.StatusOf(tp, topic, stage.Examples) != stage.StatusContentUnavailable {
		t.Fatal("examples should be content-unavailable")
	}
	tp, err := stage.Advance(tp)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if stage.StatusOf(tp, topic, stage.RuleBreakdown) != stage.StatusAvailable {
		t.Error("rule breakdown should be available after moving past missing examples")
	}
}
