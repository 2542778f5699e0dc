package exercise

import (
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Evaluate checks a submission against an exercise. A submission of the wrong
// shape, a nil submission or a nil exercise is incorrect.
//
// Text answers are compared after trimming, NFC normalisation and Unicode case
// folding. Matching is exact otherwise: no edit-distance tolerance, so a typo
// is a wrong answer.
func Evaluate(ex Exercise, sub Submission) Result {
	switch e := ex.(type) {
	case MultipleChoice:
		s, ok := sub.(ChoiceSubmission)
		if !ok || e.CorrectIndex < 0 || e.CorrectIndex >= len(e.Options) {
			return Result{}
		}
		return Result{Correct: s.Index == e.CorrectIndex}
	case FillBlank:
		return Result{Correct: matchText(e.AcceptableAnswers, sub)}
	case Translation:
		return Result{Correct: matchText(e.AcceptableAnswers, sub)}
	case WordOrder:
		s, ok := sub.(OrderSubmission)
		if !ok {
			return Result{}
		}
		return Result{Correct: sameOrder(e.CorrectOrder, s.Tokens)}
	default:
		return Result{}
	}
}

func matchText(acceptable []string, sub Submission) bool {
	s, ok := sub.(TextSubmission)
	if !ok {
		return false
	}
	got := Normalize(s.Text)
	if got == "" {
		return false
	}
	for _, a := range acceptable {
		if Normalize(a) == got {
			return true
		}
	}
	return false
}

// sameOrder requires equal length and equality at every index. Duplicates and
// order both matter. An empty correct order matches nothing.
func sameOrder(want, got []string) bool {
	if len(want) == 0 || len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}

// Normalize prepares free text for comparison.
func Normalize(s string) string {
	// cases.Caser is stateful; build one per call.
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

// Score returns round(100 * correct / total), or 0 for an empty session.
func Score(results []Result) int {
	if len(results) == 0 {
		return 0
	}
	correct := 0
	for _, r := range results {
		if r.Correct {
			correct++
		}
	}
	return int(math.Round(100 * float64(correct) / float64(len(results))))
}

// Passed reports whether a score meets PassThreshold.
func Passed(score int) bool {
	return score >= PassThreshold
}

// Graded is the outcome of grading a whole exercise set.
type Graded struct {
	Results []Result `json:"results"`
	Correct int      `json:"correct"`
	Total   int      `json:"total"`
	Score   int      `json:"score"`
	Passed  bool     `json:"passed"`
}

// Grade evaluates submissions[i] against exercises[i]. Missing submissions count
// as incorrect; extra submissions are ignored.
func Grade(exercises []Exercise, submissions []Submission) Graded {
	results := make([]Result, len(exercises))
	correct := 0
	for i, ex := range exercises {
		var sub Submission
		if i < len(submissions) {
			sub = submissions[i]
		}
		results[i] = Evaluate(ex, sub)
		if results[i].Correct {
			correct++
		}
	}
	score := Score(results)
	return Graded{
		Results: results,
		Correct: correct,
		Total:   len(exercises),
		Score:   score,
		Passed:  len(exercises) > 0 && Passed(score),
	}
}
