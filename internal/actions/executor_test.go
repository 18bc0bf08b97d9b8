package actions_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/giskard/internal/actions"
	"github.com/basket/giskard/internal/store"
	"github.com/basket/giskard/internal/task"
)

type recordingEnqueuer struct {
	tasks []*task.Task
	full  bool
}

func (r *recordingEnqueuer) Enqueue(t *task.Task) bool {
	if r.full {
		return false
	}
	r.tasks = append(r.tasks, t)
	return true
}

func newTestExecutor(t *testing.T) (*actions.Executor, *store.Store, *recordingEnqueuer) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	registry, err := actions.NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	enq := &recordingEnqueuer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return actions.NewExecutor(st, registry, enq, logger), st, enq
}

func execute(t *testing.T, ex *actions.Executor, name, args string) actions.Result {
	t.Helper()
	return ex.Execute(context.Background(), name, json.RawMessage(args))
}

func TestExecute_CreateTask(t *testing.T) {
	ex, st, enq := newTestExecutor(t)

	res := execute(t, ex, actions.ActionCreateTask,
		`{"title": "Buy milk", "description": "two liters", "project": "Errands"}`)
	if !res.OK {
		t.Fatalf("create failed: %v", res.Payload)
	}
	if res.Payload["task_title"] != "Buy milk" {
		t.Fatalf("unexpected payload: %v", res.Payload)
	}
	if msg := res.Payload["message"]; msg != "Created task: Buy milk" {
		t.Fatalf("message = %v", msg)
	}

	id := res.Payload["task_id"].(int64)
	got, err := st.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Project != "Errands" || got.Description != "two liters" {
		t.Fatalf("stored task = %+v", got)
	}

	if len(enq.tasks) != 1 || enq.tasks[0].ID != id {
		t.Fatalf("expected task enqueued for classification, got %+v", enq.tasks)
	}
}

func TestExecute_CreateTaskWithCategoriesSkipsClassification(t *testing.T) {
	ex, _, enq := newTestExecutor(t)

	res := execute(t, ex, actions.ActionCreateTask,
		`{"title": "Gym session", "categories": ["health"]}`)
	if !res.OK {
		t.Fatalf("create failed: %v", res.Payload)
	}
	if len(enq.tasks) != 0 {
		t.Fatalf("pre-categorized task should not be enqueued, got %+v", enq.tasks)
	}
}

func TestExecute_CreateTaskRejectsMissingTitle(t *testing.T) {
	ex, _, _ := newTestExecutor(t)

	res := execute(t, ex, actions.ActionCreateTask, `{"description": "no title"}`)
	if res.OK {
		t.Fatal("expected schema validation failure")
	}
	if _, ok := res.Payload["error"]; !ok {
		t.Fatalf("expected error payload, got %v", res.Payload)
	}
}

func TestExecute_UnknownAction(t *testing.T) {
	ex, _, _ := newTestExecutor(t)

	res := execute(t, ex, "explode", `{}`)
	if res.OK {
		t.Fatal("expected failure")
	}
	if res.Payload["error"] != "Unknown action: explode" {
		t.Fatalf("error = %v", res.Payload["error"])
	}
}

func TestExecute_UpdateTaskStatus(t *testing.T) {
	ex, st, _ := newTestExecutor(t)
	created, err := st.CreateTask(context.Background(), "Write report", "", "", nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	res := execute(t, ex, actions.ActionUpdateTaskStatus,
		`{"task_id": `+jsonID(created.ID)+`, "status": "done"}`)
	if !res.OK {
		t.Fatalf("update failed: %v", res.Payload)
	}
	if res.Payload["status"] != "done" {
		t.Fatalf("payload = %v", res.Payload)
	}

	got, err := st.GetTask(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusDone || got.CompletedAt == nil {
		t.Fatalf("task not marked done: %+v", got)
	}
}

func TestExecute_UpdateTaskStatusErrors(t *testing.T) {
	ex, st, _ := newTestExecutor(t)
	created, err := st.CreateTask(context.Background(), "A task", "", "", nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	res := execute(t, ex, actions.ActionUpdateTaskStatus, `{"task_id": 9999, "status": "done"}`)
	if res.OK || res.Payload["error"] != "Task not found" {
		t.Fatalf("expected Task not found, got %v", res.Payload)
	}

	res = execute(t, ex, actions.ActionUpdateTaskStatus,
		`{"task_id": `+jsonID(created.ID)+`, "status": "finished"}`)
	if res.OK || res.Payload["error"] != "Invalid status" {
		t.Fatalf("expected Invalid status, got %v", res.Payload)
	}
}

func TestExecute_UpdateTaskFields(t *testing.T) {
	ex, st, _ := newTestExecutor(t)
	created, err := st.CreateTask(context.Background(), "Old title", "old desc", "", nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	res := execute(t, ex, actions.ActionUpdateTask,
		`{"task_id": `+jsonID(created.ID)+`, "title": "New title", "project": "Home", "categories": ["learning"], "completed_at": "2026-01-15T10:00:00"}`)
	if !res.OK {
		t.Fatalf("update failed: %v", res.Payload)
	}

	got, err := st.GetTask(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != "New title" || got.Description != "old desc" {
		t.Fatalf("content = %q / %q", got.Title, got.Description)
	}
	if got.Project != "Home" || len(got.Categories) != 1 || got.Categories[0] != "learning" {
		t.Fatalf("metadata = %+v", got)
	}
	if got.CompletedAt == nil || got.CompletedAt.Year() != 2026 {
		t.Fatalf("completed_at = %v", got.CompletedAt)
	}
}

func TestExecute_UpdateTaskNotFound(t *testing.T) {
	ex, _, _ := newTestExecutor(t)

	res := execute(t, ex, actions.ActionUpdateTask, `{"task_id": 424242, "title": "x"}`)
	if res.OK || res.Payload["error"] != "Task not found" {
		t.Fatalf("expected Task not found, got %v", res.Payload)
	}
}

func TestExecute_ReorderTasks(t *testing.T) {
	ex, st, _ := newTestExecutor(t)
	ctx := context.Background()
	a, _ := st.CreateTask(ctx, "first", "", "", nil)
	b, _ := st.CreateTask(ctx, "second", "", "", nil)
	c, _ := st.CreateTask(ctx, "third", "", "", nil)

	res := execute(t, ex, actions.ActionReorderTasks,
		`{"task_ids": [`+jsonID(c.ID)+`, `+jsonID(a.ID)+`, `+jsonID(b.ID)+`]}`)
	if !res.OK {
		t.Fatalf("reorder failed: %v", res.Payload)
	}
	if res.Payload["message"] != "Reordered 3 tasks" {
		t.Fatalf("message = %v", res.Payload["message"])
	}

	tasks, err := st.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if tasks[0].ID != c.ID || tasks[1].ID != a.ID || tasks[2].ID != b.ID {
		t.Fatalf("order = %d %d %d", tasks[0].ID, tasks[1].ID, tasks[2].ID)
	}
}

func TestExecute_ReorderUnknownIDFails(t *testing.T) {
	ex, _, _ := newTestExecutor(t)

	res := execute(t, ex, actions.ActionReorderTasks, `{"task_ids": [12345]}`)
	if res.OK || res.Payload["error"] != "Failed to reorder tasks" {
		t.Fatalf("expected reorder failure, got %v", res.Payload)
	}
}

func TestExecute_FetchTasksStatusFilter(t *testing.T) {
	ex, st, _ := newTestExecutor(t)
	ctx := context.Background()
	open, _ := st.CreateTask(ctx, "open one", "", "", nil)
	doing, _ := st.CreateTask(ctx, "doing one", "", "", nil)
	doing.MarkInProgress()
	if err := st.SaveTask(ctx, doing); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	res := execute(t, ex, actions.ActionFetchTasks, `{"status": "open"}`)
	if !res.OK {
		t.Fatalf("fetch failed: %v", res.Payload)
	}
	if res.Payload["count"] != 1 {
		t.Fatalf("count = %v", res.Payload["count"])
	}
	tasks := res.Payload["tasks"].([]*task.Task)
	if tasks[0].ID != open.ID {
		t.Fatalf("got task %d, want %d", tasks[0].ID, open.ID)
	}

	res = execute(t, ex, actions.ActionFetchTasks, `{"status": ["open", "in_progress"]}`)
	if !res.OK || res.Payload["count"] != 2 {
		t.Fatalf("multi-status fetch = %v", res.Payload)
	}

	res = execute(t, ex, actions.ActionFetchTasks, `{"status": "finished"}`)
	if res.OK {
		t.Fatal("expected invalid status filter to fail")
	}
	if !strings.Contains(res.Payload["error"].(string), "Invalid status filter") {
		t.Fatalf("error = %v", res.Payload["error"])
	}
}

func TestExecute_FetchTasksCompletionWindow(t *testing.T) {
	ex, st, _ := newTestExecutor(t)
	ctx := context.Background()

	early, _ := st.CreateTask(ctx, "done early", "", "", nil)
	early.MarkDone()
	at := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	early.CompletedAt = &at
	if err := st.SaveTask(ctx, early); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	late, _ := st.CreateTask(ctx, "done late", "", "", nil)
	late.MarkDone()
	at2 := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	late.CompletedAt = &at2
	if err := st.SaveTask(ctx, late); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	if _, err := st.CreateTask(ctx, "still open", "", "", nil); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	res := execute(t, ex, actions.ActionFetchTasks,
		`{"completed_at_gte": "2026-02-01", "completed_at_lt": "2026-03-01"}`)
	if !res.OK {
		t.Fatalf("fetch failed: %v", res.Payload)
	}
	if res.Payload["count"] != 1 {
		t.Fatalf("count = %v", res.Payload["count"])
	}
	tasks := res.Payload["tasks"].([]*task.Task)
	if tasks[0].ID != late.ID {
		t.Fatalf("got task %d, want %d", tasks[0].ID, late.ID)
	}

	res = execute(t, ex, actions.ActionFetchTasks, `{"completed_at_gte": "not-a-date"}`)
	if res.OK {
		t.Fatal("expected invalid date to fail")
	}
	if !strings.Contains(res.Payload["error"].(string), "Invalid date format") {
		t.Fatalf("error = %v", res.Payload["error"])
	}
}

func TestExecute_DeleteTask(t *testing.T) {
	ex, st, _ := newTestExecutor(t)
	created, err := st.CreateTask(context.Background(), "short lived", "", "", nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	res := execute(t, ex, actions.ActionDeleteTask, `{"task_id": `+jsonID(created.ID)+`}`)
	if !res.OK {
		t.Fatalf("delete failed: %v", res.Payload)
	}

	if _, err := st.GetTask(context.Background(), created.ID); err == nil {
		t.Fatal("task still present after delete")
	}

	res = execute(t, ex, actions.ActionDeleteTask, `{"task_id": `+jsonID(created.ID)+`}`)
	if res.OK || res.Payload["error"] != "Task not found" {
		t.Fatalf("expected Task not found, got %v", res.Payload)
	}
}

func TestExecute_NoOp(t *testing.T) {
	ex, _, _ := newTestExecutor(t)

	res := execute(t, ex, actions.ActionNoOp, `{}`)
	if !res.OK || res.Payload["message"] != "No operation performed" {
		t.Fatalf("no_op = %v", res.Payload)
	}

	// Empty args default to an empty object.
	res = ex.Execute(context.Background(), actions.ActionNoOp, nil)
	if !res.OK {
		t.Fatalf("no_op with nil args = %v", res.Payload)
	}
}

func TestRegistry_Descriptions(t *testing.T) {
	registry, err := actions.NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	desc := registry.Descriptions()
	for _, name := range registry.Names() {
		if !strings.Contains(desc, "- "+name+": ") {
			t.Fatalf("descriptions missing %s:\n%s", name, desc)
		}
	}
	if registry.Get("bogus") != nil {
		t.Fatal("expected nil spec for unknown name")
	}
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
