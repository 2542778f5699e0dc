package curriculum

import (
	"fmt"

	"github.com/p-n-ai/pai-learn/internal/exercise"
)

// Category groups learned items within a level.
type Category string

const (
	CategoryVocabulary     Category = "vocabulary"
	CategorySentences      Category = "sentences"
	CategoryGrammarRules   Category = "grammar_rules"
	CategoryReadingLessons Category = "reading_lessons"
)

// Categories lists every category in a stable order.
var Categories = []Category{
	CategoryVocabulary,
	CategorySentences,
	CategoryGrammarRules,
	CategoryReadingLessons,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryVocabulary, CategorySentences, CategoryGrammarRules, CategoryReadingLessons:
		return true
	}
	return false
}

// Totals holds per-category item counts for a level. Reading lessons are
// counted by the lesson list and do not take part in level percentage.
type Totals struct {
	Vocabulary   int `yaml:"vocabulary" json:"vocabulary"`
	Sentences    int `yaml:"sentences" json:"sentences"`
	GrammarRules int `yaml:"grammar_rules" json:"grammar_rules"`
}

// Sum returns the number of items counted towards level percentage.
func (t Totals) Sum() int {
	return t.Vocabulary + t.Sentences + t.GrammarRules
}

// Of returns the total for one category.
func (t Totals) Of(c Category) int {
	switch c {
	case CategoryVocabulary:
		return t.Vocabulary
	case CategorySentences:
		return t.Sentences
	case CategoryGrammarRules:
		return t.GrammarRules
	}
	return 0
}

// Level is a curriculum unit at a fixed position in the progression.
type Level struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Order   int      `yaml:"order"`
	Free    bool     `yaml:"free"`
	Totals  Totals   `yaml:"totals"`
	Lessons []Lesson `yaml:"lessons"`
	Topics  []Topic  `yaml:"topics"`
}

// Lesson is a reading lesson. Lessons unlock in list order.
type Lesson struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
}

// Topic is a grammar teaching unit made of five stages.
type Topic struct {
	ID     string         `yaml:"id"`
	Name   string         `yaml:"name"`
	Stages []StageContent `yaml:"stages"`
}

// StageContent is the authored material for one stage of a topic.
type StageContent struct {
	Stage     int            `yaml:"stage"`
	Title     string         `yaml:"title"`
	Body      string         `yaml:"body"`
	Exercises []ExerciseSpec `yaml:"exercises"`

	compiled []exercise.Exercise
}

// ExerciseSpec is the file form of an exercise.
type ExerciseSpec struct {
	Type              string   `yaml:"type"`
	Prompt            string   `yaml:"prompt"`
	Options           []string `yaml:"options,omitempty"`
	CorrectIndex      int      `yaml:"correct_index,omitempty"`
	AcceptableAnswers []string `yaml:"acceptable_answers,omitempty"`
	CorrectOrder      []string `yaml:"correct_order,omitempty"`
}

// Build converts the spec into an evaluable exercise.
func (s ExerciseSpec) Build() (exercise.Exercise, error) {
	switch exercise.Kind(s.Type) {
	case exercise.KindMultipleChoice:
		if s.CorrectIndex < 0 || s.CorrectIndex >= len(s.Options) {
			return nil, fmt.Errorf("correct_index %d out of range for %d options", s.CorrectIndex, len(s.Options))
		}
		return exercise.MultipleChoice{Prompt: s.Prompt, Options: s.Options, CorrectIndex: s.CorrectIndex}, nil
	case exercise.KindFillBlank:
		if len(s.AcceptableAnswers) == 0 {
			return nil, fmt.Errorf("fill_blank needs acceptable_answers")
		}
		return exercise.FillBlank{Prompt: s.Prompt, AcceptableAnswers: s.AcceptableAnswers}, nil
	case exercise.KindTranslation:
		if len(s.AcceptableAnswers) == 0 {
			return nil, fmt.Errorf("translation needs acceptable_answers")
		}
		return exercise.Translation{Prompt: s.Prompt, AcceptableAnswers: s.AcceptableAnswers}, nil
	case exercise.KindWordOrder:
		if len(s.CorrectOrder) == 0 {
			return nil, fmt.Errorf("word_order needs correct_order")
		}
		return exercise.WordOrder{Prompt: s.Prompt, CorrectOrder: s.CorrectOrder}, nil
	default:
		return nil, fmt.Errorf("unknown exercise type %q", s.Type)
	}
}

// ExerciseSet returns the compiled exercises for this stage.
func (c StageContent) ExerciseSet() []exercise.Exercise {
	return c.compiled
}

// Content returns the authored content for a stage, if any.
func (t Topic) Content(stage int) (StageContent, bool) {
	for _, c := range t.Stages {
		if c.Stage == stage {
			return c, true
		}
	}
	return StageContent{}, false
}

func (l *Level) compile() error {
	for ti := range l.Topics {
		topic := &l.Topics[ti]
		for si := range topic.Stages {
			stage := &topic.Stages[si]
			stage.compiled = make([]exercise.Exercise, 0, len(stage.Exercises))
			for ei, spec := range stage.Exercises {
				ex, err := spec.Build()
				if err != nil {
					return fmt.Errorf("topic %s stage %d exercise %d: %w", topic.ID, stage.Stage, ei, err)
				}
				stage.compiled = append(stage.compiled, ex)
			}
		}
	}
	return nil
}
