package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/models"
)

// TaskFilter narrows ListTasks. Nil/empty fields do not filter.
type TaskFilter struct {
	Completed *bool
	Subject   string
	DueBefore *time.Time
}

const taskColumns = `id, title, description, subject, priority, due_date, completed, created_at`

func scanTask(row pgx.Row) (models.PlannerTask, error) {
	var t models.PlannerTask
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Subject, &t.Priority, &t.DueDate, &t.Completed, &t.CreatedAt)
	return t, err
}

// ListTasks returns a user's tasks, undated tasks last.
func ListTasks(ctx context.Context, pool *pgxpool.Pool, userID string, f TaskFilter) ([]models.PlannerTask, error) {
	rows, err := pool.Query(ctx, `SELECT `+taskColumns+` FROM planner_tasks
		WHERE user_id = $1
			AND ($2::boolean IS NULL OR completed = $2)
			AND ($3 = '' OR subject = $3)
			AND ($4::timestamptz IS NULL OR due_date <= $4)
		ORDER BY due_date ASC NULLS LAST, created_at`, userID, f.Completed, f.Subject, f.DueBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PlannerTask, error) {
		return scanTask(row)
	})
}

// CreateTask inserts a task.
func CreateTask(ctx context.Context, pool *pgxpool.Pool, userID string, req models.TaskRequest) (models.PlannerTask, error) {
	if req.Priority == "" {
		req.Priority = "medium"
	}
	t, err := scanTask(pool.QueryRow(ctx, `
		INSERT INTO planner_tasks (id, user_id, title, description, subject, priority, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+taskColumns,
		uuid.NewString(), userID, req.Title, req.Description, req.Subject, req.Priority, req.DueDate))
	if err != nil {
		return models.PlannerTask{}, fmt.Errorf("failed to create task: %w", err)
	}
	return t, nil
}

// UpdateTask replaces the editable fields of a task.
func UpdateTask(ctx context.Context, pool *pgxpool.Pool, userID, id string, req models.TaskRequest) (models.PlannerTask, error) {
	if req.Priority == "" {
		req.Priority = "medium"
	}
	t, err := scanTask(pool.QueryRow(ctx, `
		UPDATE planner_tasks SET title = $3, description = $4, subject = $5, priority = $6, due_date = $7
		WHERE id = $1 AND user_id = $2
		RETURNING `+taskColumns,
		id, userID, req.Title, req.Description, req.Subject, req.Priority, req.DueDate))
	if err != nil {
		return models.PlannerTask{}, notFound(err, "update task")
	}
	return t, nil
}

// ToggleTask flips the completed flag.
func ToggleTask(ctx context.Context, pool *pgxpool.Pool, userID, id string) (models.PlannerTask, error) {
	t, err := scanTask(pool.QueryRow(ctx, `
		UPDATE planner_tasks SET completed = NOT completed
		WHERE id = $1 AND user_id = $2
		RETURNING `+taskColumns, id, userID))
	if err != nil {
		return models.PlannerTask{}, notFound(err, "toggle task")
	}
	return t, nil
}

// DeleteTask removes a task.
func DeleteTask(ctx context.Context, pool *pgxpool.Pool, userID, id string) error {
	tag, err := pool.Exec(ctx, `DELETE FROM planner_tasks WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
