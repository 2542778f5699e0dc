// Package exercise evaluates learner submissions against curriculum exercises.
//
// Exercises form a closed set of variants. Evaluation is pure: no I/O, no
// panics on malformed input.
package exercise

// PassThreshold is the minimum session score that counts as a pass.
const PassThreshold = 70

// Kind names an exercise variant. It matches the `type` field in curriculum files.
type Kind string

const (
	KindMultipleChoice Kind = "multiple_choice"
	KindFillBlank      Kind = "fill_blank"
	KindWordOrder      Kind = "word_order"
	KindTranslation    Kind = "translation"
)

// Exercise is one of MultipleChoice, FillBlank, WordOrder or Translation.
type Exercise interface {
	Kind() Kind
	sealed()
}

// MultipleChoice asks the learner to pick one option.
type MultipleChoice struct {
	Prompt       string
	Options      []string
	CorrectIndex int
}

// FillBlank asks the learner to type the missing word of a sentence.
type FillBlank struct {
	Prompt            string
	AcceptableAnswers []string
}

// WordOrder asks the learner to arrange tokens into a sentence.
type WordOrder struct {
	Prompt       string
	CorrectOrder []string
}

// Translation asks the learner to translate a phrase.
type Translation struct {
	Prompt            string
	AcceptableAnswers []string
}

func (MultipleChoice) Kind() Kind { return KindMultipleChoice }
func (FillBlank) Kind() Kind      { return KindFillBlank }
func (WordOrder) Kind() Kind      { return KindWordOrder }
func (Translation) Kind() Kind    { return KindTranslation }

func (MultipleChoice) sealed() {}
func (FillBlank) sealed()      {}
func (WordOrder) sealed()      {}
func (Translation) sealed()    {}

// Submission is a learner's answer. Its concrete type must match the exercise:
// ChoiceSubmission for MultipleChoice, TextSubmission for FillBlank and
// Translation, OrderSubmission for WordOrder.
type Submission interface {
	submission()
}

// ChoiceSubmission selects an option by index.
type ChoiceSubmission struct {
	Index int
}

// TextSubmission is free text.
type TextSubmission struct {
	Text string
}

// OrderSubmission is an ordered token list.
type OrderSubmission struct {
	Tokens []string
}

func (ChoiceSubmission) submission() {}
func (TextSubmission) submission()   {}
func (OrderSubmission) submission()  {}

// Result is the outcome of evaluating one submission.
type Result struct {
	Correct bool `json:"correct"`
}
