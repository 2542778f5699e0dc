package curriculum_test

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
)

func TestImportWorkbook_RoundTripsThroughLoader(t *testing.T) {
	path := writeWorkbook(t)

	res, err := curriculum.ImportWorkbook(path)
	if err != nil {
		t.Fatalf("ImportWorkbook() error = %v", err)
	}
	if len(res.Levels) != 2 {
		t.Fatalf("levels = %d, want 2", len(res.Levels))
	}
	if res.Exercises != 2 {
		t.Errorf("exercises = %d, want 2", res.Exercises)
	}
	if len(res.Errors) != 2 {
		t.Errorf("errors = %v, want 2 (unknown topic, bad exercise)", res.Errors)
	}

	first := res.Levels[0]
	if first.ID != "a1.1" || !first.Free || first.Totals.Sum() != 15 {
		t.Errorf("first level = %+v", first)
	}
	if len(first.Lessons) != 2 || first.Lessons[1].ID != "l2" {
		t.Errorf("lessons = %+v", first.Lessons)
	}

	out := t.TempDir()
	paths, err := curriculum.WriteLevels(out, res.Levels)
	if err != nil {
		t.Fatalf("WriteLevels() error = %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("paths = %v", paths)
	}

	catalog, err := curriculum.Load(out)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	topic, _, ok := catalog.Topic("a1.1", "t1")
	if !ok {
		t.Fatal("imported topic not found")
	}
	content, ok := topic.Content(4)
	if !ok || content.Title != "Guided practice" || len(content.ExerciseSet()) != 2 {
		t.Errorf("stage 4 = %+v, found %v", content, ok)
	}
}

func TestImportWorkbook_MissingFile(t *testing.T) {
	if _, err := curriculum.ImportWorkbook(filepath.Join(t.TempDir(), "nope.xlsx")); err == nil {
		t.Fatal("expected error for missing workbook")
	}
}

func writeWorkbook(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", curriculum.SheetLevels); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{curriculum.SheetLessons, curriculum.SheetTopics, curriculum.SheetStages, curriculum.SheetExercises} {
		if _, err := f.NewSheet(name); err != nil {
			t.Fatal(err)
		}
	}

	sheets := map[string][][]any{
		curriculum.SheetLevels: {
			{"id", "name", "order", "free", "vocabulary", "sentences", "grammar_rules"},
			{"a1.2", "A1.2", 2, "", 10, 6, 3},
			{"a1.1", "A1.1", 1, "yes", 8, 5, 2},
		},
		curriculum.SheetLessons: {
			{"level_id", "lesson_id", "title"},
			{"a1.1", "l1", "First"},
			{"a1.1", "l2", "Second"},
		},
		curriculum.SheetTopics: {
			{"level_id", "topic_id", "name"},
			{"a1.1", "t1", "Present tense"},
		},
		curriculum.SheetStages: {
			{"level_id", "topic_id", "stage", "title", "body"},
			{"a1.1", "t1", 4, "Guided practice", ""},
			{"a1.1", "missing", 1, "Intro", ""},
		},
		curriculum.SheetExercises: {
			{"level_id", "topic_id", "stage", "type", "prompt", "options", "correct_index", "answers", "correct_order"},
			{"a1.1", "t1", 4, "multiple_choice", "Pick", "a|b|c", 2, "", ""},
			{"a1.1", "t1", 4, "translation", "Yes", "", "", "ja|jo", ""},
			{"a1.1", "t1", 4, "word_order", "Order", "", "", "", ""},
		},
	}
	for sheet, rows := range sheets {
		for i, row := range rows {
			cellRef, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				t.Fatal(err)
			}
			if err := f.SetSheetRow(sheet, cellRef, &row); err != nil {
				t.Fatal(err)
			}
		}
	}

	path := filepath.Join(t.TempDir(), "curriculum.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	return path
}
