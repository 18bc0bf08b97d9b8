package task

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Line codec for the legacy todo.txt persistence format. Two grammars
// coexist on disk:
//
//	canonical:  project:"Work" Call dentist note:"ask about x-ray" categories:health
//	legacy:     x 2024-03-01 Call dentist | ask about x-ray | 3
//
// ParseLine accepts both; FormatLine always emits the canonical grammar.
// Done tasks carry an "x " prefix with an optional YYYY-MM-DD completion
// date, in-progress tasks carry a literal status:in_progress marker.

const (
	doneMarker       = "x "
	inProgressMarker = "status:in_progress"
	completionLayout = "2006-01-02"
)

var (
	projectRe    = regexp.MustCompile(`project:"([^"]*)"|project:(\S+)`)
	noteRe       = regexp.MustCompile(`note:"([^"]*)"|note:(\S+)`)
	categoriesRe = regexp.MustCompile(`categories:"([^"]*)"|categories:(\S+)`)
	ignorableRe  = regexp.MustCompile(`\s+(?:status|time_minutes|created):\S+`)
	bracketRe    = regexp.MustCompile(`^\[([^\]]+)\]\s*(.+)$`)
)

// ParseLine parses one todo.txt line into a Task. The returned task has no
// ID and no sort key unless the legacy order field was present.
func ParseLine(line string) (*Task, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty line")
	}

	now := time.Now()
	t := &Task{Status: StatusOpen, CreatedAt: now, UpdatedAt: now}

	text := line
	switch {
	case strings.HasPrefix(line, doneMarker):
		t.Status = StatusDone
		rest := strings.TrimSpace(line[len(doneMarker):])
		if date, after, ok := splitCompletionDate(rest); ok {
			completed := date
			t.CompletedAt = &completed
			rest = after
		} else {
			t.CompletedAt = &now
		}
		text = rest
	case strings.Contains(line, inProgressMarker):
		t.Status = StatusInProgress
		started := now
		t.StartedAt = &started
		text = strings.TrimSpace(strings.ReplaceAll(line, inProgressMarker, ""))
	}

	title, description, project, categories, order := parseTaskText(text)
	if title == "" {
		return nil, fmt.Errorf("no title in line %q", line)
	}
	t.Title = title
	t.Description = description
	t.Project = project
	t.Categories = categories
	if order > 0 {
		t.SortKey = order
	}
	return t, nil
}

// ParseLines parses a whole file's worth of lines, skipping blank and
// malformed lines rather than failing the batch.
func ParseLines(lines []string) []*Task {
	var tasks []*Task
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		t, err := ParseLine(line)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks
}

// FormatLine renders a task in the canonical tag grammar.
func FormatLine(t *Task) string {
	text := formatTaskText(t)
	switch t.Status {
	case StatusDone:
		if t.CompletedAt != nil {
			return fmt.Sprintf("x %s %s", t.CompletedAt.Format(completionLayout), text)
		}
		return "x " + text
	case StatusInProgress:
		return text + " " + inProgressMarker
	default:
		return text
	}
}

// splitCompletionDate pulls a leading YYYY-MM-DD token off a done line.
func splitCompletionDate(text string) (time.Time, string, bool) {
	first, rest, found := strings.Cut(text, " ")
	if !found || strings.Count(first, "-") != 2 {
		return time.Time{}, "", false
	}
	date, err := time.ParseInLocation(completionLayout, first, time.Local)
	if err != nil {
		return time.Time{}, "", false
	}
	return date, strings.TrimSpace(rest), true
}

// parseTaskText extracts title, description, project, categories, and legacy
// order from the text portion of a line. Canonical tags are tried first;
// lines without a project tag fall back to the pipe-delimited legacy shape.
func parseTaskText(text string) (title, description, project string, categories []string, order int64) {
	if strings.Contains(text, "project:") {
		return parseCanonical(text)
	}

	if strings.Contains(text, " | ") {
		parts := strings.Split(text, " | ")
		title = strings.TrimSpace(parts[0])
		if len(parts) > 1 {
			description = strings.TrimSpace(strings.ReplaceAll(parts[1], `\n`, "\n"))
		}
		if len(parts) >= 3 {
			if n, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64); err == nil {
				order = n
			}
		}
		title, project = splitBracketProject(title)
		return title, description, project, nil, order
	}

	title, project = splitBracketProject(strings.TrimSpace(text))
	return title, description, project, nil, 0
}

// parseCanonical handles the tag grammar. Each tag is extracted by its own
// regex pass and removed from the text; whatever survives is the title.
func parseCanonical(text string) (title, description, project string, categories []string, order int64) {
	if m := projectRe.FindStringSubmatch(text); m != nil {
		project = firstGroup(m)
		text = strings.TrimSpace(projectRe.ReplaceAllString(text, ""))
	}
	if m := noteRe.FindStringSubmatch(text); m != nil {
		description = strings.ReplaceAll(firstGroup(m), `\n`, "\n")
		text = strings.TrimSpace(noteRe.ReplaceAllString(text, ""))
	}
	if m := categoriesRe.FindStringSubmatch(text); m != nil {
		raw := firstGroup(m)
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				categories = append(categories, c)
			}
		}
		text = strings.TrimSpace(categoriesRe.ReplaceAllString(text, ""))
	}
	text = strings.TrimSpace(ignorableRe.ReplaceAllString(text, ""))

	title = strings.TrimSpace(text)
	if project == "" {
		title, project = splitBracketProject(title)
	}
	return title, description, project, categories, 0
}

func firstGroup(m []string) string {
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// splitBracketProject peels a leading "[Project] " prefix off a title, the
// convention used before project became a first-class field.
func splitBracketProject(title string) (string, string) {
	if m := bracketRe.FindStringSubmatch(title); m != nil {
		return strings.TrimSpace(m[2]), m[1]
	}
	return title, ""
}

func formatTaskText(t *Task) string {
	project := t.Project
	title := t.Title
	if project == "" {
		title, project = splitBracketProject(title)
	}

	var parts []string
	if project != "" {
		parts = append(parts, quoteTag("project", project))
	} else {
		parts = append(parts, `project:""`)
	}
	parts = append(parts, title)
	if t.Description != "" {
		escaped := strings.ReplaceAll(t.Description, "\n", `\n`)
		parts = append(parts, quoteTag("note", escaped))
	}
	if len(t.Categories) > 0 {
		parts = append(parts, quoteTag("categories", strings.Join(t.Categories, ",")))
	}
	return strings.Join(parts, " ")
}

// quoteTag quotes the value only when it contains spaces, matching the
// historical on-disk shape.
func quoteTag(key, value string) string {
	if strings.Contains(value, " ") {
		return key + `:"` + value + `"`
	}
	return key + ":" + value
}
