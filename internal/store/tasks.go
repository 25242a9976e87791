package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const taskColumns = `id, owner_id, owner_name, title, description, status, priority, task_date,
	client_id, client_name_raw, COALESCE(solution, ''), COALESCE(ampliacion, ''), COALESCE(category, ''),
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*Task, error) {
	var (
		t        Task
		taskDate sql.NullTime
		clientID sql.NullInt64
	)
	if err := r.Scan(&t.ID, &t.OwnerID, &t.OwnerName, &t.Title, &t.Description, &t.Status, &t.Priority, &taskDate,
		&clientID, &t.ClientNameRaw, &t.Solution, &t.Ampliacion, &t.Category,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if taskDate.Valid {
		d := taskDate.Time
		t.TaskDate = &d
	}
	if clientID.Valid {
		id := clientID.Int64
		t.ClientID = &id
	}
	return &t, nil
}

// CreateTask inserts t and sets its ID and timestamps. Status defaults to
// open and priority to normal.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: empty title", ErrInvalidValue)
	}
	if t.Status == "" {
		t.Status = StatusOpen
	}
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidValue, t.Status)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: priority %q", ErrInvalidValue, t.Priority)
	}

	now := s.now().UTC()
	var taskDate sql.NullTime
	if t.TaskDate != nil {
		taskDate = sql.NullTime{Time: *t.TaskDate, Valid: true}
	}
	var clientID sql.NullInt64
	if t.ClientID != nil {
		clientID = sql.NullInt64{Int64: *t.ClientID, Valid: true}
	}

	err := s.write(ctx, "create task", func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (owner_id, owner_name, title, description, status, priority, task_date,
				client_id, client_name_raw, solution, ampliacion, category, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.OwnerID, t.OwnerName, t.Title, t.Description, string(t.Status), string(t.Priority), taskDate,
			clientID, t.ClientNameRaw, nullString(t.Solution), nullString(t.Ampliacion), nullString(t.Category), now, now)
		if err != nil {
			return err
		}
		t.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	t.CreatedAt, t.UpdatedAt = now, now

	s.log.Info("task created",
		slog.Int64("task_id", t.ID),
		slog.Int64("owner_id", t.OwnerID),
		slog.String("priority", string(t.Priority)),
		slog.String("category", t.Category))
	return nil
}

// GetTask returns the task with its images.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	if t.Images, err = s.ListImages(ctx, id); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks returns tasks matching f, urgent first, then by date and ID.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]*Task, error) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID != 0 {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ClientID != 0 {
		where = append(where, "client_id = ?")
		args = append(args, f.ClientID)
	}

	q := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += ` ORDER BY CASE priority WHEN 'urgent' THEN 0 ELSE 1 END, task_date IS NULL, task_date, id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	dated := !f.From.IsZero() || !f.To.IsZero()
	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		// Date bounds are applied here: stored timestamps carry zone
		// offsets, so SQL text comparison would be unreliable.
		if dated {
			if t.TaskDate == nil {
				continue
			}
			if !f.From.IsZero() && t.TaskDate.Before(f.From) {
				continue
			}
			if !f.To.IsZero() && !t.TaskDate.Before(f.To) {
				continue
			}
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if f.Limit > 0 && len(tasks) > f.Limit {
		tasks = tasks[:f.Limit]
	}
	return tasks, nil
}

// CountTasks counts tasks matching f, ignoring its Limit.
func (s *Store) CountTasks(ctx context.Context, f TaskFilter) (int, error) {
	f.Limit = 0
	tasks, err := s.ListTasks(ctx, f)
	return len(tasks), err
}

// CompleteTask moves an open task to completed, recording solution when
// given.
func (s *Store) CompleteTask(ctx context.Context, id int64, solution string) error {
	return s.transition(ctx, id, StatusCompleted, solution)
}

// CancelTask moves an open task to cancelled.
func (s *Store) CancelTask(ctx context.Context, id int64) error {
	return s.transition(ctx, id, StatusCancelled, "")
}

func (s *Store) transition(ctx context.Context, id int64, to Status, solution string) error {
	var n int64
	err := s.write(ctx, "update task status", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, solution = COALESCE(?, solution), updated_at = ?
			WHERE id = ? AND status = 'open'`,
			string(to), nullString(solution), s.now().UTC(), id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("task %d to %s: %w", id, to, err)
	}
	if n == 0 {
		current, err := s.GetTask(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("task %d is %s, cannot become %s: %w", id, current.Status, to, ErrInvalidTransition)
	}
	s.log.Info("task status changed", slog.Int64("task_id", id), slog.String("status", string(to)))
	return nil
}

// SetSolution replaces the solution text of a task.
func (s *Store) SetSolution(ctx context.Context, id int64, solution string) error {
	return s.updateTask(ctx, id, "set solution", `solution = ?`, nullString(solution))
}

// AppendAmpliacion appends text to the task's addenda, separated from any
// previous addendum by a blank line. The append is a single statement so
// concurrent appends never lose text.
func (s *Store) AppendAmpliacion(ctx context.Context, id int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty ampliacion", ErrInvalidValue)
	}
	return s.updateTask(ctx, id, "append ampliacion", `ampliacion = CASE
		WHEN ampliacion IS NULL OR ampliacion = '' THEN ?
		ELSE ampliacion || char(10) || char(10) || ? END`, text, text)
}

// SetTaskDate reassigns the task date. A nil date clears it.
func (s *Store) SetTaskDate(ctx context.Context, id int64, date *time.Time) error {
	var v sql.NullTime
	if date != nil {
		v = sql.NullTime{Time: *date, Valid: true}
	}
	return s.updateTask(ctx, id, "set task date", `task_date = ?`, v)
}

// SetPriority changes the task priority.
func (s *Store) SetPriority(ctx context.Context, id int64, p Priority) error {
	if !p.Valid() {
		return fmt.Errorf("%w: priority %q", ErrInvalidValue, p)
	}
	return s.updateTask(ctx, id, "set priority", `priority = ?`, string(p))
}

// SetCategory changes the task category. The name must exist; an empty
// name clears it.
func (s *Store) SetCategory(ctx context.Context, id int64, category string) error {
	if category != "" {
		if _, err := s.GetCategory(ctx, category); err != nil {
			return err
		}
	}
	return s.updateTask(ctx, id, "set category", `category = ?`, nullString(category))
}

// SetClient links the task to a registry client.
func (s *Store) SetClient(ctx context.Context, id int64, clientID int64, nameRaw string) error {
	return s.updateTask(ctx, id, "set client", `client_id = ?, client_name_raw = ?`, clientID, nameRaw)
}

func (s *Store) updateTask(ctx context.Context, id int64, op, set string, args ...any) error {
	var n int64
	err := s.write(ctx, op, func() error {
		all := append(append([]any{}, args...), s.now().UTC(), id)
		res, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+set+`, updated_at = ? WHERE id = ?`, all...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("%s on task %d: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteTask removes a task and its image rows. Stored image blobs are
// removed first on a best-effort basis: failures are logged and never stop
// the row deletion.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	images, err := s.ListImages(ctx, id)
	if err != nil {
		return err
	}
	if s.blobs != nil {
		for _, img := range images {
			if img.StoragePath == "" {
				continue
			}
			if err := s.blobs.Remove(ctx, img.StoragePath); err != nil {
				s.log.Warn("failed to remove image blob",
					slog.Int64("task_id", id),
					slog.Int64("image_id", img.ID),
					slog.String("path", img.StoragePath),
					slog.Any("error", err))
			}
		}
	}

	var n int64
	err = s.write(ctx, "delete task", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	s.log.Info("task deleted", slog.Int64("task_id", id), slog.Int("images", len(images)))
	return nil
}
