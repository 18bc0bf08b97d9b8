package task

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// ValidStatus reports whether s is one of the three task statuses.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusOpen, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// MaxTitleLen bounds task titles after trimming.
const MaxTitleLen = 200

// SortKeyGap is the spacing between consecutive sort keys, leaving room to
// reinsert tasks without rewriting every row.
const SortKeyGap = 1000

// Task is a single todo item. ID is zero until the store persists it.
type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	SortKey     int64      `json:"sort_key"`
	Project     string     `json:"project,omitempty"`
	Categories  []string   `json:"categories"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New returns an open task with trimmed fields and timestamps set.
func New(title, description string) (*Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("task title is empty")
	}
	if len(title) > MaxTitleLen {
		return nil, fmt.Errorf("task title exceeds %d characters", MaxTitleLen)
	}
	now := time.Now()
	return &Task{
		Title:       title,
		Description: strings.TrimSpace(description),
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// MarkDone transitions the task to done, stamping completed_at and clearing
// started_at.
func (t *Task) MarkDone() {
	now := time.Now()
	t.Status = StatusDone
	t.CompletedAt = &now
	t.StartedAt = nil
}

// MarkInProgress transitions the task to in_progress, stamping started_at and
// clearing completed_at.
func (t *Task) MarkInProgress() {
	now := time.Now()
	t.Status = StatusInProgress
	t.StartedAt = &now
	t.CompletedAt = nil
}

// MarkOpen transitions the task back to open, clearing both timestamps.
func (t *Task) MarkOpen() {
	t.Status = StatusOpen
	t.StartedAt = nil
	t.CompletedAt = nil
}

// SetStatus applies the named transition. Unknown statuses are rejected.
func (t *Task) SetStatus(status string) error {
	switch Status(status) {
	case StatusOpen:
		t.MarkOpen()
	case StatusInProgress:
		t.MarkInProgress()
	case StatusDone:
		t.MarkDone()
	default:
		return fmt.Errorf("unknown status %q", status)
	}
	return nil
}

// UpdateContent replaces title and description, trimming whitespace.
func (t *Task) UpdateContent(title, description string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("task title is empty")
	}
	if len(title) > MaxTitleLen {
		return fmt.Errorf("task title exceeds %d characters", MaxTitleLen)
	}
	t.Title = title
	t.Description = strings.TrimSpace(description)
	return nil
}

// HasCategory reports whether the task carries the named category.
func (t *Task) HasCategory(name string) bool {
	for _, c := range t.Categories {
		if c == name {
			return true
		}
	}
	return false
}
