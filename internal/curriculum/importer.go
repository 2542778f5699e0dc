package curriculum

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// Workbook sheet names read by ImportWorkbook. Every sheet has a header row.
const (
	SheetLevels    = "levels"    // id | name | order | free | vocabulary | sentences | grammar_rules
	SheetLessons   = "lessons"   // level_id | lesson_id | title
	SheetTopics    = "topics"    // level_id | topic_id | name
	SheetStages    = "stages"    // level_id | topic_id | stage | title | body
	SheetExercises = "exercises" // level_id | topic_id | stage | type | prompt | options | correct_index | answers | correct_order
)

// listSep separates list values inside a single cell.
const listSep = "|"

// ImportResult reports what an import produced.
type ImportResult struct {
	Levels    []Level
	Exercises int
	Errors    []string
}

// ImportWorkbook reads a curriculum authored as an XLSX workbook. Row-level
// problems are collected in Errors and the row is skipped.
func ImportWorkbook(path string) (*ImportResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	res := &ImportResult{}
	levels := make(map[string]*Level)

	rows, err := f.GetRows(SheetLevels)
	if err != nil {
		return nil, fmt.Errorf("reading %s sheet: %w", SheetLevels, err)
	}
	for i, row := range dataRows(rows) {
		id := cell(row, 0)
		if id == "" {
			res.errorf(SheetLevels, i, "missing id")
			continue
		}
		order, err := atoiOrZero(cell(row, 2))
		if err != nil {
			res.errorf(SheetLevels, i, "order: %v", err)
			continue
		}
		totals, err := parseTotals(row[min(4, len(row)):])
		if err != nil {
			res.errorf(SheetLevels, i, "totals: %v", err)
			continue
		}
		levels[id] = &Level{
			ID:     id,
			Name:   cell(row, 1),
			Order:  order,
			Free:   parseBool(cell(row, 3)),
			Totals: totals,
		}
	}

	if rows, err = optionalRows(f, SheetLessons); err != nil {
		return nil, err
	}
	for i, row := range dataRows(rows) {
		l, ok := levels[cell(row, 0)]
		if !ok || cell(row, 1) == "" {
			res.errorf(SheetLessons, i, "unknown level %q or missing lesson id", cell(row, 0))
			continue
		}
		l.Lessons = append(l.Lessons, Lesson{ID: cell(row, 1), Title: cell(row, 2)})
	}

	if rows, err = optionalRows(f, SheetTopics); err != nil {
		return nil, err
	}
	for i, row := range dataRows(rows) {
		l, ok := levels[cell(row, 0)]
		if !ok || cell(row, 1) == "" {
			res.errorf(SheetTopics, i, "unknown level %q or missing topic id", cell(row, 0))
			continue
		}
		l.Topics = append(l.Topics, Topic{ID: cell(row, 1), Name: cell(row, 2)})
	}

	if rows, err = optionalRows(f, SheetStages); err != nil {
		return nil, err
	}
	for i, row := range dataRows(rows) {
		stage, ok := res.stageFor(levels, SheetStages, i, row)
		if !ok {
			continue
		}
		stage.Title = cell(row, 3)
		stage.Body = cell(row, 4)
	}

	if rows, err = optionalRows(f, SheetExercises); err != nil {
		return nil, err
	}
	for i, row := range dataRows(rows) {
		stage, ok := res.stageFor(levels, SheetExercises, i, row)
		if !ok {
			continue
		}
		spec := ExerciseSpec{
			Type:              cell(row, 3),
			Prompt:            cell(row, 4),
			Options:           splitList(cell(row, 5)),
			AcceptableAnswers: splitList(cell(row, 7)),
			CorrectOrder:      splitList(cell(row, 8)),
		}
		if spec.CorrectIndex, err = atoiOrZero(cell(row, 6)); err != nil {
			res.errorf(SheetExercises, i, "correct_index: %v", err)
			continue
		}
		if _, err := spec.Build(); err != nil {
			res.errorf(SheetExercises, i, "%v", err)
			continue
		}
		stage.Exercises = append(stage.Exercises, spec)
		res.Exercises++
	}

	for _, l := range levels {
		for ti := range l.Topics {
			sort.SliceStable(l.Topics[ti].Stages, func(a, b int) bool {
				return l.Topics[ti].Stages[a].Stage < l.Topics[ti].Stages[b].Stage
			})
		}
		res.Levels = append(res.Levels, *l)
	}
	sort.SliceStable(res.Levels, func(i, j int) bool {
		return res.Levels[i].Order < res.Levels[j].Order
	})
	return res, nil
}

// WriteLevels writes one YAML file per level into dir, named <order>-<id>.yaml.
func WriteLevels(dir string, levels []Level) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	paths := make([]string, 0, len(levels))
	for _, l := range levels {
		data, err := yaml.Marshal(l)
		if err != nil {
			return nil, fmt.Errorf("encoding level %s: %w", l.ID, err)
		}
		name := fmt.Sprintf("%02d-%s.yaml", l.Order, strings.ReplaceAll(l.ID, string(filepath.Separator), "_"))
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (r *ImportResult) errorf(sheet string, dataRow int, format string, args ...any) {
	// +2: header row and 1-based row numbers.
	r.Errors = append(r.Errors, fmt.Sprintf("%s row %d: %s", sheet, dataRow+2, fmt.Sprintf(format, args...)))
}

// stageFor finds or creates the stage addressed by the first three columns.
func (r *ImportResult) stageFor(levels map[string]*Level, sheet string, i int, row []string) (*StageContent, bool) {
	l, ok := levels[cell(row, 0)]
	if !ok {
		r.errorf(sheet, i, "unknown level %q", cell(row, 0))
		return nil, false
	}
	var topic *Topic
	for ti := range l.Topics {
		if l.Topics[ti].ID == cell(row, 1) {
			topic = &l.Topics[ti]
			break
		}
	}
	if topic == nil {
		r.errorf(sheet, i, "unknown topic %q", cell(row, 1))
		return nil, false
	}
	n, err := strconv.Atoi(cell(row, 2))
	if err != nil || n < 1 || n > 5 {
		r.errorf(sheet, i, "stage must be 1..5, got %q", cell(row, 2))
		return nil, false
	}
	for si := range topic.Stages {
		if topic.Stages[si].Stage == n {
			return &topic.Stages[si], true
		}
	}
	topic.Stages = append(topic.Stages, StageContent{Stage: n})
	return &topic.Stages[len(topic.Stages)-1], true
}

func optionalRows(f *excelize.File, sheet string) ([][]string, error) {
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading %s sheet: %w", sheet, err)
	}
	return rows, nil
}

func dataRows(rows [][]string) [][]string {
	if len(rows) <= 1 {
		return nil
	}
	return rows[1:]
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseTotals(cols []string) (Totals, error) {
	var t Totals
	var err error
	if t.Vocabulary, err = atoiOrZero(cell(cols, 0)); err != nil {
		return t, err
	}
	if t.Sentences, err = atoiOrZero(cell(cols, 1)); err != nil {
		return t, err
	}
	if t.GrammarRules, err = atoiOrZero(cell(cols, 2)); err != nil {
		return t, err
	}
	return t, nil
}

func atoiOrZero(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y", "x":
		return true
	}
	return false
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, listSep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
