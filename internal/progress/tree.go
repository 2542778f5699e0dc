// Package progress owns the per-learner progress tree: learned item sets per
// level, per-topic stage state, percentages, and the session and write queue
// that persist the tree.
package progress

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
)

// Topic stage bounds.
const (
	FirstStage = 1
	LastStage  = 5
)

// ItemSet is a set of learned item ids. It encodes as a sorted JSON array.
type ItemSet map[string]struct{}

// NewItemSet returns a set holding items.
func NewItemSet(items ...string) ItemSet {
	s := make(ItemSet, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func (s ItemSet) Has(item string) bool {
	_, ok := s[item]
	return ok
}

// Items returns the ids in sorted order.
func (s ItemSet) Items() []string {
	out := make([]string, 0, len(s))
	for it := range s {
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}

func (s ItemSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Items())
}

func (s *ItemSet) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = NewItemSet(items...)
	return nil
}

func (s ItemSet) clone() ItemSet {
	out := make(ItemSet, len(s))
	for it := range s {
		out[it] = struct{}{}
	}
	return out
}

// TopicProgress is the engine-owned state of one topic.
type TopicProgress struct {
	Completed    bool       `json:"completed"`
	Percentage   int        `json:"percentage"`
	CurrentStage int        `json:"current_stage"`
	Score        int        `json:"score"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// NewTopicProgress is the state of a topic never visited.
func NewTopicProgress() TopicProgress {
	return TopicProgress{CurrentStage: FirstStage}
}

func (tp TopicProgress) equal(o TopicProgress) bool {
	if tp.Completed != o.Completed || tp.Percentage != o.Percentage ||
		tp.CurrentStage != o.CurrentStage || tp.Score != o.Score {
		return false
	}
	if tp.CompletedAt == nil || o.CompletedAt == nil {
		return tp.CompletedAt == nil && o.CompletedAt == nil
	}
	return tp.CompletedAt.Equal(*o.CompletedAt)
}

func (tp TopicProgress) normalized() TopicProgress {
	tp.CurrentStage = clamp(tp.CurrentStage, FirstStage, LastStage)
	tp.Percentage = clamp(tp.Percentage, 0, 100)
	tp.Score = clamp(tp.Score, 0, 100)
	if tp.CompletedAt != nil {
		at := *tp.CompletedAt
		tp.CompletedAt = &at
	}
	return tp
}

// LevelProgress holds the learned item sets and topic states of one level.
type LevelProgress struct {
	Vocabulary     ItemSet                   `json:"vocabulary"`
	Sentences      ItemSet                   `json:"sentences"`
	GrammarRules   ItemSet                   `json:"grammar_rules"`
	ReadingLessons ItemSet                   `json:"reading_lessons"`
	Topics         map[string]*TopicProgress `json:"topics"`
}

func newLevelProgress() *LevelProgress {
	return &LevelProgress{
		Vocabulary:     ItemSet{},
		Sentences:      ItemSet{},
		GrammarRules:   ItemSet{},
		ReadingLessons: ItemSet{},
		Topics:         map[string]*TopicProgress{},
	}
}

// Set returns the item set for category, or nil for an unknown category.
func (lp *LevelProgress) Set(c curriculum.Category) ItemSet {
	switch c {
	case curriculum.CategoryVocabulary:
		return lp.Vocabulary
	case curriculum.CategorySentences:
		return lp.Sentences
	case curriculum.CategoryGrammarRules:
		return lp.GrammarRules
	case curriculum.CategoryReadingLessons:
		return lp.ReadingLessons
	}
	return nil
}

// Topic returns the stored state of topicID, or a first-visit default.
func (lp *LevelProgress) Topic(topicID string) TopicProgress {
	if tp, ok := lp.Topics[topicID]; ok && tp != nil {
		return *tp
	}
	return NewTopicProgress()
}

func (lp *LevelProgress) clone() *LevelProgress {
	out := &LevelProgress{
		Vocabulary:     lp.Vocabulary.clone(),
		Sentences:      lp.Sentences.clone(),
		GrammarRules:   lp.GrammarRules.clone(),
		ReadingLessons: lp.ReadingLessons.clone(),
		Topics:         make(map[string]*TopicProgress, len(lp.Topics)),
	}
	for id, tp := range lp.Topics {
		if tp == nil {
			continue
		}
		cp := tp.normalized()
		out.Topics[id] = &cp
	}
	return out
}

// LearnerProgress is the full progress tree of one learner.
type LearnerProgress struct {
	Levels map[string]*LevelProgress `json:"levels"`
}

// Initialize overlays stored onto an empty skeleton holding every level in
// levelIDs. Stored levels the catalog no longer lists are kept. Missing sets
// and maps are filled in and topic fields are clamped to their ranges. The
// result never aliases stored.
func Initialize(levelIDs []string, stored *LearnerProgress) *LearnerProgress {
	tree := &LearnerProgress{Levels: make(map[string]*LevelProgress, len(levelIDs))}
	for _, id := range levelIDs {
		tree.Levels[id] = newLevelProgress()
	}
	if stored == nil {
		return tree
	}
	for id, lp := range stored.Levels {
		if lp == nil {
			continue
		}
		// clone() turns nil sets into empty ones.
		tree.Levels[id] = lp.clone()
	}
	return tree
}

// Clone returns a deep copy of the tree.
func (p *LearnerProgress) Clone() *LearnerProgress {
	if p == nil {
		return nil
	}
	out := &LearnerProgress{Levels: make(map[string]*LevelProgress, len(p.Levels))}
	for id, lp := range p.Levels {
		if lp != nil {
			out.Levels[id] = lp.clone()
		}
	}
	return out
}

// Level returns the progress of levelID.
func (p *LearnerProgress) Level(levelID string) (*LevelProgress, bool) {
	lp, ok := p.Levels[levelID]
	return lp, ok && lp != nil
}

// MarkLearned adds item to the level's category set. It reports whether the
// tree changed; an item already present, an unknown level or an unknown
// category leaves the tree untouched.
func (p *LearnerProgress) MarkLearned(levelID string, c curriculum.Category, item string) bool {
	set := p.set(levelID, c)
	if set == nil || item == "" || set.Has(item) {
		return false
	}
	set[item] = struct{}{}
	return true
}

// UnmarkLearned removes item from the level's category set and reports
// whether the tree changed.
func (p *LearnerProgress) UnmarkLearned(levelID string, c curriculum.Category, item string) bool {
	set := p.set(levelID, c)
	if set == nil || !set.Has(item) {
		return false
	}
	delete(set, item)
	return true
}

// IsLearned is false for unknown levels and categories.
func (p *LearnerProgress) IsLearned(levelID string, c curriculum.Category, item string) bool {
	set := p.set(levelID, c)
	return set != nil && set.Has(item)
}

// Topic returns the state of a topic, defaulting to a first visit.
func (p *LearnerProgress) Topic(levelID, topicID string) TopicProgress {
	lp, ok := p.Level(levelID)
	if !ok {
		return NewTopicProgress()
	}
	return lp.Topic(topicID)
}

// SetTopic stores tp for the topic and reports whether anything changed.
// Storing the default state of a never-visited topic is not a change.
// Unknown levels are ignored.
func (p *LearnerProgress) SetTopic(levelID, topicID string, tp TopicProgress) bool {
	lp, ok := p.Level(levelID)
	if !ok {
		return false
	}
	tp = tp.normalized()
	if lp.Topic(topicID).equal(tp) {
		return false
	}
	lp.Topics[topicID] = &tp
	return true
}

func (p *LearnerProgress) set(levelID string, c curriculum.Category) ItemSet {
	lp, ok := p.Level(levelID)
	if !ok {
		return nil
	}
	return lp.Set(c)
}

// LevelPercentage is round(learned/total*100) over vocabulary, sentences and
// grammar rules, with learned counts capped at the catalog total per
// category. It is 0 when the totals sum to 0 or the level is unknown.
func LevelPercentage(p *LearnerProgress, levelID string, totals curriculum.Totals) int {
	total := totals.Sum()
	if total <= 0 {
		return 0
	}
	lp, ok := p.Level(levelID)
	if !ok {
		return 0
	}
	learned := 0
	for _, c := range []curriculum.Category{
		curriculum.CategoryVocabulary,
		curriculum.CategorySentences,
		curriculum.CategoryGrammarRules,
	} {
		learned += min(len(lp.Set(c)), max(totals.Of(c), 0))
	}
	return int(math.Round(float64(learned) / float64(total) * 100))
}

// Stats are learned item counts summed across levels.
type Stats struct {
	Vocabulary     int `json:"vocabulary"`
	Sentences      int `json:"sentences"`
	GrammarRules   int `json:"grammar_rules"`
	ReadingLessons int `json:"reading_lessons"`
}

// TotalStats sums learned counts across every level of the tree.
func TotalStats(p *LearnerProgress) Stats {
	var s Stats
	for _, lp := range p.Levels {
		if lp == nil {
			continue
		}
		s.Vocabulary += len(lp.Vocabulary)
		s.Sentences += len(lp.Sentences)
		s.GrammarRules += len(lp.GrammarRules)
		s.ReadingLessons += len(lp.ReadingLessons)
	}
	return s
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
