package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/giskard/internal/store"
	"github.com/basket/giskard/internal/task"
)

// Enqueuer accepts a freshly created task for background categorization.
type Enqueuer interface {
	Enqueue(t *task.Task) bool
}

// Result is the uniform outcome of one action call. When OK is false the
// Payload carries an "error" entry with a human-readable message.
type Result struct {
	Name    string         `json:"name"`
	OK      bool           `json:"ok"`
	Payload map[string]any `json:"payload"`
}

// Executor runs planner-selected actions against the task store.
type Executor struct {
	store    *store.Store
	registry *Registry
	enqueuer Enqueuer
	logger   *slog.Logger
}

func NewExecutor(st *store.Store, registry *Registry, enqueuer Enqueuer, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: st, registry: registry, enqueuer: enqueuer, logger: logger}
}

// Registry exposes the action specs, mostly for prompt construction.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute validates args against the action's schema and dispatches.
// Failures are reported in the Result, never as a Go error; the pipeline
// treats a failed action as data for the synthesizer, not a crash.
func (e *Executor) Execute(ctx context.Context, name string, args json.RawMessage) Result {
	spec := e.registry.Get(name)
	if spec == nil {
		return fail(name, "Unknown action: %s", name)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	decoded, err := jsonschema.UnmarshalJSON(strings.NewReader(string(args)))
	if err != nil {
		return fail(name, "invalid arguments: %s", err)
	}
	if err := spec.ValidateArgs(decoded); err != nil {
		return fail(name, "%s", err)
	}

	switch name {
	case ActionCreateTask:
		return e.createTask(ctx, args)
	case ActionUpdateTaskStatus:
		return e.updateTaskStatus(ctx, args)
	case ActionUpdateTask:
		return e.updateTask(ctx, args)
	case ActionReorderTasks:
		return e.reorderTasks(ctx, args)
	case ActionFetchTasks:
		return e.fetchTasks(ctx, args)
	case ActionDeleteTask:
		return e.deleteTask(ctx, args)
	case ActionNoOp:
		return Result{Name: name, OK: true, Payload: map[string]any{"message": "No operation performed"}}
	default:
		return fail(name, "Unknown action: %s", name)
	}
}

type createTaskArgs struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Project     string   `json:"project"`
	Categories  []string `json:"categories"`
}

func (e *Executor) createTask(ctx context.Context, raw json.RawMessage) Result {
	var args createTaskArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return fail(ActionCreateTask, "invalid arguments: %s", err)
	}

	t, err := e.store.CreateTask(ctx, args.Title, args.Description, args.Project, args.Categories)
	if err != nil {
		return fail(ActionCreateTask, "%s", err)
	}

	if e.enqueuer != nil && len(t.Categories) == 0 {
		if !e.enqueuer.Enqueue(t) {
			e.logger.Warn("classification queue full, skipping", "task_id", t.ID)
		}
	}

	return Result{Name: ActionCreateTask, OK: true, Payload: map[string]any{
		"task_id":    t.ID,
		"task_title": t.Title,
		"message":    fmt.Sprintf("Created task: %s", t.Title),
	}}
}

type updateTaskStatusArgs struct {
	TaskID int64  `json:"task_id"`
	Status string `json:"status"`
}

func (e *Executor) updateTaskStatus(ctx context.Context, raw json.RawMessage) Result {
	var args updateTaskStatusArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return fail(ActionUpdateTaskStatus, "invalid arguments: %s", err)
	}
	if !task.ValidStatus(args.Status) {
		return fail(ActionUpdateTaskStatus, "Invalid status")
	}

	t, err := e.store.GetTask(ctx, args.TaskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return fail(ActionUpdateTaskStatus, "Task not found")
		}
		return fail(ActionUpdateTaskStatus, "%s", err)
	}
	if err := t.SetStatus(args.Status); err != nil {
		return fail(ActionUpdateTaskStatus, "Invalid status")
	}
	if err := e.store.SaveTask(ctx, t); err != nil {
		return fail(ActionUpdateTaskStatus, "%s", err)
	}

	return Result{Name: ActionUpdateTaskStatus, OK: true, Payload: map[string]any{
		"task_id": t.ID,
		"status":  args.Status,
		"message": fmt.Sprintf("Updated task %d status to %s", t.ID, args.Status),
	}}
}

type updateTaskArgs struct {
	TaskID      int64     `json:"task_id"`
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Project     *string   `json:"project"`
	Categories  *[]string `json:"categories"`
	CompletedAt *string   `json:"completed_at"`
	StartedAt   *string   `json:"started_at"`
}

func (e *Executor) updateTask(ctx context.Context, raw json.RawMessage) Result {
	var args updateTaskArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return fail(ActionUpdateTask, "invalid arguments: %s", err)
	}

	t, err := e.store.GetTask(ctx, args.TaskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return fail(ActionUpdateTask, "Task not found")
		}
		return fail(ActionUpdateTask, "%s", err)
	}

	if args.Title != nil || args.Description != nil {
		title, description := t.Title, t.Description
		if args.Title != nil {
			title = *args.Title
		}
		if args.Description != nil {
			description = *args.Description
		}
		if err := t.UpdateContent(title, description); err != nil {
			return fail(ActionUpdateTask, "%s", err)
		}
	}
	if args.Project != nil {
		t.Project = strings.TrimSpace(*args.Project)
	}
	if args.Categories != nil {
		t.Categories = *args.Categories
	}
	if args.StartedAt != nil {
		ts, err := parseTimestamp(*args.StartedAt)
		if err != nil {
			return fail(ActionUpdateTask, "%s", err)
		}
		t.StartedAt = ts
	}
	if args.CompletedAt != nil {
		ts, err := parseTimestamp(*args.CompletedAt)
		if err != nil {
			return fail(ActionUpdateTask, "%s", err)
		}
		t.CompletedAt = ts
	}

	if err := e.store.SaveTask(ctx, t); err != nil {
		return fail(ActionUpdateTask, "%s", err)
	}

	return Result{Name: ActionUpdateTask, OK: true, Payload: map[string]any{
		"task_id": t.ID,
		"message": fmt.Sprintf("Updated task %d", t.ID),
	}}
}

type reorderTasksArgs struct {
	TaskIDs []int64 `json:"task_ids"`
}

func (e *Executor) reorderTasks(ctx context.Context, raw json.RawMessage) Result {
	var args reorderTasksArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return fail(ActionReorderTasks, "invalid arguments: %s", err)
	}

	if err := e.store.ReorderTasks(ctx, args.TaskIDs); err != nil {
		return fail(ActionReorderTasks, "Failed to reorder tasks")
	}
	return Result{Name: ActionReorderTasks, OK: true, Payload: map[string]any{
		"task_ids": args.TaskIDs,
		"message":  fmt.Sprintf("Reordered %d tasks", len(args.TaskIDs)),
	}}
}

type fetchTasksArgs struct {
	Status         json.RawMessage `json:"status"`
	CompletedAtGTE string          `json:"completed_at_gte"`
	CompletedAtLT  string          `json:"completed_at_lt"`
}

func (e *Executor) fetchTasks(ctx context.Context, raw json.RawMessage) Result {
	var args fetchTasksArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return fail(ActionFetchTasks, "invalid arguments: %s", err)
	}

	statuses, err := decodeStatusFilter(args.Status)
	if err != nil {
		return fail(ActionFetchTasks, "%s", err)
	}

	open, inProgress, done, err := e.store.ListByStatus(ctx)
	if err != nil {
		return fail(ActionFetchTasks, "%s", err)
	}

	var tasks []*task.Task
	if len(statuses) == 0 {
		tasks = append(tasks, open...)
		tasks = append(tasks, inProgress...)
		tasks = append(tasks, done...)
	} else {
		seen := make(map[int64]bool)
		for _, s := range statuses {
			var part []*task.Task
			switch s {
			case string(task.StatusOpen):
				part = open
			case string(task.StatusInProgress):
				part = inProgress
			case string(task.StatusDone):
				part = done
			default:
				return fail(ActionFetchTasks, "Invalid status filter: %s. Valid options: open, in_progress, done", s)
			}
			for _, t := range part {
				if !seen[t.ID] {
					seen[t.ID] = true
					tasks = append(tasks, t)
				}
			}
		}
	}

	if args.CompletedAtGTE != "" || args.CompletedAtLT != "" {
		var gte, lt *time.Time
		if args.CompletedAtGTE != "" {
			ts, err := parseTimestamp(args.CompletedAtGTE)
			if err != nil {
				return fail(ActionFetchTasks, "Invalid date format: %s. Use ISO format (e.g., 2025-09-29 or 2025-09-29T00:00:00)", args.CompletedAtGTE)
			}
			gte = ts
		}
		if args.CompletedAtLT != "" {
			ts, err := parseTimestamp(args.CompletedAtLT)
			if err != nil {
				return fail(ActionFetchTasks, "Invalid date format: %s. Use ISO format (e.g., 2025-09-29 or 2025-09-29T00:00:00)", args.CompletedAtLT)
			}
			lt = ts
		}

		// Completion-window filters only ever match finished tasks.
		var filtered []*task.Task
		for _, t := range tasks {
			if t.Status != task.StatusDone || t.CompletedAt == nil {
				continue
			}
			if gte != nil && t.CompletedAt.Before(*gte) {
				continue
			}
			if lt != nil && !t.CompletedAt.Before(*lt) {
				continue
			}
			filtered = append(filtered, t)
		}
		tasks = filtered
	}

	return Result{Name: ActionFetchTasks, OK: true, Payload: map[string]any{
		"tasks":   tasks,
		"count":   len(tasks),
		"message": fmt.Sprintf("Fetched %d tasks", len(tasks)),
	}}
}

type deleteTaskArgs struct {
	TaskID int64 `json:"task_id"`
}

func (e *Executor) deleteTask(ctx context.Context, raw json.RawMessage) Result {
	var args deleteTaskArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return fail(ActionDeleteTask, "invalid arguments: %s", err)
	}

	deleted, err := e.store.DeleteTask(ctx, args.TaskID)
	if err != nil {
		return fail(ActionDeleteTask, "%s", err)
	}
	if !deleted {
		return fail(ActionDeleteTask, "Task not found")
	}
	return Result{Name: ActionDeleteTask, OK: true, Payload: map[string]any{
		"task_id": args.TaskID,
		"message": fmt.Sprintf("Deleted task %d", args.TaskID),
	}}
}

func decodeStatusFilter(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	return nil, fmt.Errorf("Status must be a string, list of strings, or null")
}

// parseTimestamp accepts the date and datetime shapes the planner emits.
func parseTimestamp(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("invalid timestamp %q", s)
}

func fail(name, format string, args ...any) Result {
	return Result{Name: name, OK: false, Payload: map[string]any{
		"error": fmt.Sprintf(format, args...),
	}}
}
