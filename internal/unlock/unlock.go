// Package unlock decides which levels, topics and reading lessons a learner
// may open. Gating is strictly sequential over catalog order; any reference
// the catalog does not know is locked.
package unlock

import (
	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/progress"
)

// Threshold is the level percentage that opens the next level.
const Threshold = 70

// Policy evaluates the unlock rules against one catalog.
type Policy struct {
	catalog *curriculum.Catalog
}

func NewPolicy(catalog *curriculum.Catalog) *Policy {
	return &Policy{catalog: catalog}
}

// IsLevelUnlocked reports whether the level is the first one, or the level
// before it has reached Threshold.
func (p *Policy) IsLevelUnlocked(tree *progress.LearnerProgress, levelID string) bool {
	if _, ok := p.catalog.Level(levelID); !ok {
		return false
	}
	if p.catalog.IsFirst(levelID) {
		return true
	}
	prev, ok := p.catalog.Previous(levelID)
	if !ok {
		return false
	}
	return progress.LevelPercentage(tree, prev.ID, prev.Totals) >= Threshold
}

// IsTopicUnlocked reports whether topic idx of the level is open: topic 0
// follows the level, every later topic needs the one before it completed.
func (p *Policy) IsTopicUnlocked(tree *progress.LearnerProgress, levelID string, idx int) bool {
	level, ok := p.catalog.Level(levelID)
	if !ok || idx < 0 || idx >= len(level.Topics) {
		return false
	}
	if idx == 0 {
		return p.IsLevelUnlocked(tree, levelID)
	}
	return tree.Topic(levelID, level.Topics[idx-1].ID).Completed
}

// IsLessonUnlocked reports whether reading lesson idx is open: lesson 0
// always is, every later lesson needs the one before it learned.
func (p *Policy) IsLessonUnlocked(tree *progress.LearnerProgress, levelID string, idx int) bool {
	level, ok := p.catalog.Level(levelID)
	if !ok || idx < 0 || idx >= len(level.Lessons) {
		return false
	}
	if idx == 0 {
		return true
	}
	return tree.IsLearned(levelID, curriculum.CategoryReadingLessons, level.Lessons[idx-1].ID)
}

// LevelState is the unlock picture of one level.
type LevelState struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Free       bool         `json:"free"`
	Unlocked   bool         `json:"unlocked"`
	Percentage int          `json:"percentage"`
	Topics     []TopicState `json:"topics"`
	Lessons    []ItemState  `json:"lessons"`
}

// TopicState is the unlock picture of one topic.
type TopicState struct {
	ID           string `json:"id"`
	Unlocked     bool   `json:"unlocked"`
	Completed    bool   `json:"completed"`
	CurrentStage int    `json:"current_stage"`
	Percentage   int    `json:"percentage"`
}

// ItemState is the unlock picture of one reading lesson.
type ItemState struct {
	ID       string `json:"id"`
	Unlocked bool   `json:"unlocked"`
	Learned  bool   `json:"learned"`
}

// Snapshot evaluates every rule for every catalog level in order.
func (p *Policy) Snapshot(tree *progress.LearnerProgress) []LevelState {
	levels := p.catalog.Levels()
	out := make([]LevelState, 0, len(levels))
	for _, level := range levels {
		state := LevelState{
			ID:         level.ID,
			Name:       level.Name,
			Free:       level.Free,
			Unlocked:   p.IsLevelUnlocked(tree, level.ID),
			Percentage: progress.LevelPercentage(tree, level.ID, level.Totals),
			Topics:     make([]TopicState, 0, len(level.Topics)),
			Lessons:    make([]ItemState, 0, len(level.Lessons)),
		}
		for i, topic := range level.Topics {
			tp := tree.Topic(level.ID, topic.ID)
			state.Topics = append(state.Topics, TopicState{
				ID:           topic.ID,
				Unlocked:     p.IsTopicUnlocked(tree, level.ID, i),
				Completed:    tp.Completed,
				CurrentStage: tp.CurrentStage,
				Percentage:   tp.Percentage,
			})
		}
		for i, lesson := range level.Lessons {
			state.Lessons = append(state.Lessons, ItemState{
				ID:       lesson.ID,
				Unlocked: p.IsLessonUnlocked(tree, level.ID, i),
				Learned:  tree.IsLearned(level.ID, curriculum.CategoryReadingLessons, lesson.ID),
			})
		}
		out = append(out, state)
	}
	return out
}
