package exercise

// Answer is the wire form of a submission. Only the field matching the
// exercise kind is read; a missing field yields a nil Submission, which
// evaluates as incorrect.
type Answer struct {
	Index  *int     `json:"index,omitempty"`
	Text   *string  `json:"text,omitempty"`
	Tokens []string `json:"tokens,omitempty"`
}

// For converts the answer into the submission shape expected by ex.
func (a Answer) For(ex Exercise) Submission {
	if ex == nil {
		return nil
	}
	switch ex.Kind() {
	case KindMultipleChoice:
		if a.Index == nil {
			return nil
		}
		return ChoiceSubmission{Index: *a.Index}
	case KindFillBlank, KindTranslation:
		if a.Text == nil {
			return nil
		}
		return TextSubmission{Text: *a.Text}
	case KindWordOrder:
		if a.Tokens == nil {
			return nil
		}
		return OrderSubmission{Tokens: a.Tokens}
	}
	return nil
}

// Submissions converts answers positionally against exercises.
func Submissions(exercises []Exercise, answers []Answer) []Submission {
	subs := make([]Submission, len(answers))
	for i, a := range answers {
		if i < len(exercises) {
			subs[i] = a.For(exercises[i])
		}
	}
	return subs
}
