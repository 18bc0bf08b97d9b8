package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/basket/giskard/internal/bus"
	"github.com/basket/giskard/internal/task"
)

// ErrTaskNotFound is returned by task lookups for unknown IDs.
var ErrTaskNotFound = errors.New("task not found")

// TaskFilter narrows ListTasks. Zero value matches every task.
type TaskFilter struct {
	Status          string
	CompletedAfter  *time.Time // completed_at >= this instant
	CompletedBefore *time.Time // completed_at < this instant
}

const taskColumns = `id, title, description, status, sort_key, project, categories,
	created_at, updated_at, started_at, completed_at`

// CreateTask persists a new open task, allocating its sort key at
// max(existing)+gap so later inserts keep a stable total order.
func (s *Store) CreateTask(ctx context.Context, title, description, project string, categories []string) (*task.Task, error) {
	t, err := task.New(title, description)
	if err != nil {
		return nil, err
	}
	t.Project = project
	t.Categories = categories

	err = retryOnBusy(ctx, busyMaxRetries, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := s.insertTaskTx(ctx, tx, t); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	s.publish(bus.TopicTaskCreated, bus.TaskEvent{
		TaskID: fmt.Sprint(t.ID),
		Title:  t.Title,
		Status: string(t.Status),
	})
	return t, nil
}

// GetTask returns the task with the given ID, or ErrTaskNotFound.
func (s *Store) GetTask(ctx context.Context, id int64) (*task.Task, error) {
	var t task.Task
	err := retryOnBusy(ctx, busyMaxRetries, func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT `+taskColumns+`
			FROM tasks WHERE id = ?;
		`, id)
		return scanTask(row.Scan, &t)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select task: %w", err)
	}
	return &t, nil
}

// ListTasks returns tasks matching the filter, ordered by sort key ascending.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.CompletedAfter != nil {
		conds = append(conds, "completed_at >= ?")
		args = append(args, *filter.CompletedAfter)
	}
	if filter.CompletedBefore != nil {
		conds = append(conds, "completed_at < ?")
		args = append(args, *filter.CompletedBefore)
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY sort_key ASC, id ASC;"

	var tasks []*task.Task
	err := retryOnBusy(ctx, busyMaxRetries, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		tasks = tasks[:0]
		for rows.Next() {
			var t task.Task
			if err := scanTask(rows.Scan, &t); err != nil {
				return err
			}
			tasks = append(tasks, &t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ListByStatus returns the three status partitions, each sort-key ordered.
func (s *Store) ListByStatus(ctx context.Context) (open, inProgress, done []*task.Task, err error) {
	if open, err = s.ListTasks(ctx, TaskFilter{Status: string(task.StatusOpen)}); err != nil {
		return nil, nil, nil, err
	}
	if inProgress, err = s.ListTasks(ctx, TaskFilter{Status: string(task.StatusInProgress)}); err != nil {
		return nil, nil, nil, err
	}
	if done, err = s.ListTasks(ctx, TaskFilter{Status: string(task.StatusDone)}); err != nil {
		return nil, nil, nil, err
	}
	return open, inProgress, done, nil
}

// SaveTask upserts: inserts when the task has no ID yet (allocating a sort
// key if absent), otherwise updates every mutable field. updated_at is
// bumped on either path, so repeated saves of identical fields are
// observationally idempotent apart from that column.
func (s *Store) SaveTask(ctx context.Context, t *task.Task) error {
	var oldStatus string
	isInsert := t.ID == 0

	err := retryOnBusy(ctx, busyMaxRetries, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin save tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if isInsert {
			if err := s.insertTaskTx(ctx, tx, t); err != nil {
				return err
			}
			return tx.Commit()
		}

		if err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?;`, t.ID).Scan(&oldStatus); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("task %d: %w", t.ID, ErrTaskNotFound)
			}
			return fmt.Errorf("select task status: %w", err)
		}

		t.UpdatedAt = time.Now()
		cats, err := json.Marshal(t.Categories)
		if err != nil {
			return fmt.Errorf("marshal categories: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET title = ?, description = ?, status = ?, sort_key = ?, project = NULLIF(?, ''),
				categories = ?, updated_at = ?, started_at = ?, completed_at = ?
			WHERE id = ?;
		`, t.Title, t.Description, string(t.Status), t.SortKey, t.Project,
			string(cats), t.UpdatedAt, nullableTime(t.StartedAt), nullableTime(t.CompletedAt), t.ID); err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}

	if isInsert {
		s.publish(bus.TopicTaskCreated, bus.TaskEvent{
			TaskID: fmt.Sprint(t.ID),
			Title:  t.Title,
			Status: string(t.Status),
		})
		return nil
	}
	s.publish(bus.TopicTaskUpdated, bus.TaskEvent{
		TaskID: fmt.Sprint(t.ID),
		Title:  t.Title,
		Status: string(t.Status),
	})
	if oldStatus != string(t.Status) {
		s.publish(bus.TopicTaskStatusChanged, bus.TaskStatusChangedEvent{
			TaskID:    fmt.Sprint(t.ID),
			OldStatus: oldStatus,
			NewStatus: string(t.Status),
		})
	}
	return nil
}

// DeleteTask removes the task. The returned bool reports whether a row
// actually went away.
func (s *Store) DeleteTask(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := retryOnBusy(ctx, busyMaxRetries, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, id)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete task rows affected: %w", err)
		}
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if deleted {
		s.publish(bus.TopicTaskDeleted, bus.TaskEvent{TaskID: fmt.Sprint(id)})
	}
	return deleted, nil
}

// ReorderTasks rewrites sort keys so the given IDs come first in exactly the
// given order, spaced by the standard gap. Every ID must exist; the rewrite
// is transactional, so a bad ID leaves all sort keys untouched.
func (s *Store) ReorderTasks(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return fmt.Errorf("reorder: empty id list")
	}

	err := retryOnBusy(ctx, busyMaxRetries, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin reorder tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now()
		for i, id := range ids {
			newKey := int64(i+1) * task.SortKeyGap
			res, err := tx.ExecContext(ctx, `
				UPDATE tasks SET sort_key = ?, updated_at = ? WHERE id = ?;
			`, newKey, now, id)
			if err != nil {
				return fmt.Errorf("reorder task %d: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("reorder rows affected: %w", err)
			}
			if n == 0 {
				return fmt.Errorf("reorder task %d: %w", id, ErrTaskNotFound)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}

	s.publish(bus.TopicTaskReordered, ids)
	return nil
}

// ImportTasks inserts a batch of parsed tasks in one transaction, keeping
// any sort keys the legacy file carried. All-or-nothing: a bad row rolls
// the whole batch back.
func (s *Store) ImportTasks(ctx context.Context, tasks []*task.Task) (int, error) {
	if len(tasks) == 0 {
		return 0, nil
	}

	err := retryOnBusy(ctx, busyMaxRetries, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin import tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, t := range tasks {
			if err := s.insertTaskTx(ctx, tx, t); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}

	for _, t := range tasks {
		s.publish(bus.TopicTaskCreated, bus.TaskEvent{
			TaskID: fmt.Sprint(t.ID),
			Title:  t.Title,
			Status: string(t.Status),
		})
	}
	return len(tasks), nil
}

// CountTasks returns the total number of stored tasks.
func (s *Store) CountTasks(ctx context.Context) (int, error) {
	var n int
	err := retryOnBusy(ctx, busyMaxRetries, func() error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks;`).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// insertTaskTx inserts t, allocating a sort key when none was assigned.
func (s *Store) insertTaskTx(ctx context.Context, tx *sql.Tx, t *task.Task) error {
	if t.SortKey == 0 {
		var maxKey int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sort_key), 0) FROM tasks;`).Scan(&maxKey); err != nil {
			return fmt.Errorf("read max sort_key: %w", err)
		}
		t.SortKey = maxKey + task.SortKeyGap
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.UpdatedAt = time.Now()

	cats, err := json.Marshal(t.Categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (title, description, status, sort_key, project, categories,
			created_at, updated_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?);
	`, t.Title, t.Description, string(t.Status), t.SortKey, t.Project, string(cats),
		t.CreatedAt, t.UpdatedAt, nullableTime(t.StartedAt), nullableTime(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("task last insert id: %w", err)
	}
	t.ID = id
	return nil
}

func scanTask(scanFn func(dest ...any) error, t *task.Task) error {
	var project sql.NullString
	var categories string
	var startedAt, completedAt sql.NullTime
	if err := scanFn(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.Status,
		&t.SortKey,
		&project,
		&categories,
		&t.CreatedAt,
		&t.UpdatedAt,
		&startedAt,
		&completedAt,
	); err != nil {
		return err
	}
	if project.Valid {
		t.Project = project.String
	}
	if categories != "" {
		if err := json.Unmarshal([]byte(categories), &t.Categories); err != nil {
			return fmt.Errorf("parse categories: %w", err)
		}
	}
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
