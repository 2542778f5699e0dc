package curriculum

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema/level.schema.json
var levelSchemaJSON string

// Loader reads level files from a directory tree.
type Loader struct {
	rootDir string
	schema  *gojsonschema.Schema
	levels  []Level
}

// Load walks rootDir, loads every level YAML file and returns the catalog.
// Files that fail schema validation or exercise compilation are skipped with a
// warning so one bad file does not take the whole curriculum down.
func Load(rootDir string) (*Catalog, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(levelSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compiling level schema: %w", err)
	}

	l := &Loader{rootDir: rootDir, schema: schema}
	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}

	catalog, err := NewCatalog(l.levels)
	if err != nil {
		return nil, fmt.Errorf("building catalog: %w", err)
	}

	slog.Info("curriculum loaded", "levels", len(l.levels), "root", rootDir)
	return catalog, nil
}

func (l *Loader) loadAll() error {
	seen := make(map[string]string)
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return nil
		}

		level, ok, err := l.loadLevel(path)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if prev, dup := seen[level.ID]; dup {
			slog.Warn("skipping duplicate level", "id", level.ID, "path", path, "first", prev)
			return nil
		}
		seen[level.ID] = path
		l.levels = append(l.levels, level)
		return nil
	})
}

func (l *Loader) loadLevel(path string) (Level, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Level{}, false, err
	}

	if err := l.validate(data); err != nil {
		slog.Warn("skipping invalid level YAML", "path", path, "error", err)
		return Level{}, false, nil
	}

	var level Level
	if err := yaml.Unmarshal(data, &level); err != nil {
		slog.Warn("skipping invalid level YAML", "path", path, "error", err)
		return Level{}, false, nil
	}
	if err := level.compile(); err != nil {
		slog.Warn("skipping level with invalid exercises", "path", path, "error", err)
		return Level{}, false, nil
	}
	return level, true, nil
}

// validate checks raw YAML against the embedded level schema.
func (l *Loader) validate(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("empty document")
	}

	result, err := l.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validating: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}
