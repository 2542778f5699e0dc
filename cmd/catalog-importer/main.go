// Command catalog-importer converts a curriculum workbook (XLSX) into the
// level YAML files the server loads.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("import failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("catalog-importer", flag.ContinueOnError)
	in := fs.String("in", "", "path to the curriculum workbook (.xlsx)")
	out := fs.String("out", "./curriculum", "directory to write level YAML files into")
	strict := fs.Bool("strict", false, "fail when any row is rejected")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("-in is required")
	}

	res, err := curriculum.ImportWorkbook(*in)
	if err != nil {
		return err
	}
	for _, msg := range res.Errors {
		slog.Warn("row skipped", "reason", msg)
	}
	if *strict && len(res.Errors) > 0 {
		return fmt.Errorf("%d rows rejected", len(res.Errors))
	}
	if len(res.Levels) == 0 {
		return errors.New("workbook holds no levels")
	}

	paths, err := curriculum.WriteLevels(*out, res.Levels)
	if err != nil {
		return err
	}

	// Read the output back through the server's loader so a file the server
	// would skip is reported here.
	catalog, err := curriculum.Load(*out)
	if err != nil {
		return fmt.Errorf("verifying output: %w", err)
	}
	for _, l := range res.Levels {
		if _, ok := catalog.Level(l.ID); !ok {
			return fmt.Errorf("level %s was written but does not load", l.ID)
		}
	}

	for _, p := range paths {
		fmt.Fprintln(stdout, p)
	}
	slog.Info("import complete",
		"levels", len(res.Levels),
		"exercises", res.Exercises,
		"rejected_rows", len(res.Errors),
	)
	return nil
}
