// Package curriculum loads the read-only curriculum catalog: ordered levels,
// their topics and reading lessons, and per-category item totals.
package curriculum

import (
	"fmt"
	"sort"
)

// Catalog is an immutable, ordered set of levels.
type Catalog struct {
	levels []Level
	index  map[string]int
}

// NewCatalog orders levels by their Order field and compiles their exercises.
func NewCatalog(levels []Level) (*Catalog, error) {
	sorted := make([]Level, len(levels))
	copy(sorted, levels)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})

	c := &Catalog{
		levels: sorted,
		index:  make(map[string]int, len(sorted)),
	}
	for i := range c.levels {
		l := &c.levels[i]
		if l.ID == "" {
			return nil, fmt.Errorf("level at position %d has no id", i)
		}
		if _, dup := c.index[l.ID]; dup {
			return nil, fmt.Errorf("duplicate level id %q", l.ID)
		}
		if err := l.compile(); err != nil {
			return nil, fmt.Errorf("level %s: %w", l.ID, err)
		}
		c.index[l.ID] = i
	}
	return c, nil
}

// LevelIDs returns level ids in progression order.
func (c *Catalog) LevelIDs() []string {
	ids := make([]string, len(c.levels))
	for i, l := range c.levels {
		ids[i] = l.ID
	}
	return ids
}

// Levels returns all levels in progression order.
func (c *Catalog) Levels() []Level {
	out := make([]Level, len(c.levels))
	copy(out, c.levels)
	return out
}

// Level returns a level by id.
func (c *Catalog) Level(id string) (Level, bool) {
	i, ok := c.index[id]
	if !ok {
		return Level{}, false
	}
	return c.levels[i], true
}

// IsFirst reports whether id is the first level of the progression.
func (c *Catalog) IsFirst(id string) bool {
	i, ok := c.index[id]
	return ok && i == 0
}

// Previous returns the level before id. It reports false for the first level
// and for unknown ids.
func (c *Catalog) Previous(id string) (Level, bool) {
	i, ok := c.index[id]
	if !ok || i == 0 {
		return Level{}, false
	}
	return c.levels[i-1], true
}

// Topic returns a topic within a level by id, with its index.
func (c *Catalog) Topic(levelID, topicID string) (Topic, int, bool) {
	l, ok := c.Level(levelID)
	if !ok {
		return Topic{}, -1, false
	}
	for i, t := range l.Topics {
		if t.ID == topicID {
			return t, i, true
		}
	}
	return Topic{}, -1, false
}
