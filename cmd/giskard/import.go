package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/basket/giskard/internal/config"
	"github.com/basket/giskard/internal/store"
	"github.com/basket/giskard/internal/task"
)

// runImportCommand migrates a legacy todo.txt file into the SQLite store.
func runImportCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("giskard import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	path := fs.String("path", "todo.txt", "path to the legacy todo.txt file")
	dryRun := fs.Bool("dry-run", false, "parse and report without writing to the database")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if len(fs.Args()) != 0 {
		fmt.Fprintln(os.Stderr, "usage: giskard import [--path todo.txt] [--dry-run]")
		return 2
	}

	lines, skipped, err := readLines(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", *path, err)
		return 1
	}

	tasks := task.ParseLines(lines)
	malformed := len(lines) - skipped - len(tasks)
	if len(tasks) == 0 {
		fmt.Fprintf(os.Stdout, "no tasks found in %s\n", *path)
		return 0
	}

	if *dryRun {
		fmt.Fprintf(os.Stdout, "would import %d task(s) from %s", len(tasks), *path)
		if malformed > 0 {
			fmt.Fprintf(os.Stdout, " (%d malformed line(s) skipped)", malformed)
		}
		fmt.Fprintln(os.Stdout)
		for _, t := range tasks {
			fmt.Fprintf(os.Stdout, "  [%s] %s\n", t.Status, t.Title)
		}
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	st, err := store.Open(cfg.DBPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		return 1
	}
	defer st.Close()

	n, err := st.ImportTasks(ctx, tasks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import: %v\n", err)
		return 1
	}

	fmt.Fprintf(os.Stdout, "imported %d task(s) from %s into %s", n, *path, cfg.DBPath)
	if malformed > 0 {
		fmt.Fprintf(os.Stdout, " (%d malformed line(s) skipped)", malformed)
	}
	fmt.Fprintln(os.Stdout)
	return 0
}

// readLines returns every line in the file plus how many were blank.
func readLines(path string) (lines []string, blank int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		lines = append(lines, line)
		if strings.TrimSpace(line) == "" {
			blank++
		}
	}
	return lines, blank, scanner.Err()
}
