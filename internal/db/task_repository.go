package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/chepyr/todo-tracker/internal/models"
	"github.com/lib/pq"
)

// defines methods for task db operations
type TaskRepositoryInterface interface {
	Create(ctx context.Context, description string) (*models.Task, error)
	GetByID(ctx context.Context, id int64) (*models.Task, error)
	UpdateDescription(ctx context.Context, id int64, description string) (*models.Task, error)
	UpdateStatus(ctx context.Context, id int64, status models.TaskStatus) (*models.Task, error)
	Delete(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context, q models.ListQuery) ([]models.Task, int64, error)
}

type TaskRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *TaskRepository) Create(ctx context.Context, description string) (*models.Task, error) {
	desc, err := models.NormalizeDescription(description)
	if err != nil {
		return nil, err
	}
	now := r.now()
	task := &models.Task{
		Description: desc,
		Status:      models.TaskStatusPending,
		CreatedAt:   now,
		UpdatedAt:   &now,
	}

	query := `INSERT INTO tasks (description, status, created_at, updated_at)
	 VALUES ($1, $2, $3, $4) RETURNING id`
	err = r.db.QueryRowContext(ctx, query, task.Description, string(task.Status), task.CreatedAt, now).Scan(&task.ID)
	if err != nil {
		return nil, storeError("create task", err)
	}
	return task, nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, storeError("get task", err)
	}
	return task, nil
}

func (r *TaskRepository) UpdateDescription(ctx context.Context, id int64, description string) (*models.Task, error) {
	desc, err := models.NormalizeDescription(description)
	if err != nil {
		return nil, err
	}
	query := `UPDATE tasks SET description = $1, updated_at = $2 WHERE id = $3`
	if err := r.updateOne(ctx, "update task description", query, desc, r.now(), id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *TaskRepository) UpdateStatus(ctx context.Context, id int64, status models.TaskStatus) (*models.Task, error) {
	if !status.Valid() {
		return nil, &models.ValidationError{Field: "status", Message: "invalid status value: " + string(status)}
	}
	query := `UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3`
	if err := r.updateOne(ctx, "update task status", query, string(status), r.now(), id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// Delete reports whether a row was removed. A missing id is not an error.
func (r *TaskRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return false, storeError("delete task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeError("delete task", err)
	}
	return n > 0, nil
}

// List returns one page of tasks plus the number of tasks matching the
// filter across all pages.
func (r *TaskRepository) List(ctx context.Context, q models.ListQuery) ([]models.Task, int64, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, 0, err
	}
	stmt := buildListQuery(q)

	var total int64
	if err := r.db.QueryRowContext(ctx, stmt.countSQL, stmt.countArgs...).Scan(&total); err != nil {
		return nil, 0, storeError("count tasks", err)
	}

	rows, err := r.db.QueryContext(ctx, stmt.pageSQL, stmt.pageArgs...)
	if err != nil {
		return nil, 0, storeError("list tasks", err)
	}
	defer rows.Close()

	tasks := make([]models.Task, 0, q.Limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, storeError("list tasks", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeError("list tasks", err)
	}
	return tasks, total, nil
}

func (r *TaskRepository) updateOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeError(op, err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	task := &models.Task{}
	var updatedAt sql.NullTime
	var status string
	if err := row.Scan(&task.ID, &task.Description, &status, &task.CreatedAt, &updatedAt); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatus(status)
	if updatedAt.Valid {
		t := updatedAt.Time
		task.UpdatedAt = &t
	}
	return task, nil
}

// storeError maps integrity violations (SQLSTATE class 23) to validation
// errors and wraps everything else as a store failure.
func storeError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return &models.ValidationError{Field: pqErr.Column, Message: pqErr.Message}
	}
	return &models.StoreError{Op: op, Err: err}
}
