package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/models"
)

const applicationColumns = `id, university, course, required_points, status, deadline, notes`

func scanApplication(row pgx.Row) (models.Application, error) {
	var a models.Application
	err := row.Scan(&a.ID, &a.University, &a.Course, &a.RequiredPoints, &a.Status, &a.Deadline, &a.Notes)
	return a, err
}

// ListApplications returns a user's applications by deadline.
func ListApplications(ctx context.Context, pool *pgxpool.Pool, userID string) ([]models.Application, error) {
	rows, err := pool.Query(ctx, `SELECT `+applicationColumns+` FROM applications
		WHERE user_id = $1 ORDER BY deadline ASC NULLS LAST, university`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query applications: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Application, error) {
		return scanApplication(row)
	})
}

// CreateApplication inserts an application.
func CreateApplication(ctx context.Context, pool *pgxpool.Pool, userID string, req models.ApplicationRequest) (models.Application, error) {
	if req.Status == "" {
		req.Status = "researching"
	}
	a, err := scanApplication(pool.QueryRow(ctx, `
		INSERT INTO applications (id, user_id, university, course, required_points, status, deadline, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+applicationColumns,
		uuid.NewString(), userID, req.University, req.Course, req.RequiredPoints, req.Status, req.Deadline, req.Notes))
	if err != nil {
		return models.Application{}, fmt.Errorf("failed to create application: %w", err)
	}
	return a, nil
}

// UpdateApplication replaces an application's fields.
func UpdateApplication(ctx context.Context, pool *pgxpool.Pool, userID, id string, req models.ApplicationRequest) (models.Application, error) {
	if req.Status == "" {
		req.Status = "researching"
	}
	a, err := scanApplication(pool.QueryRow(ctx, `
		UPDATE applications SET university = $3, course = $4, required_points = $5, status = $6, deadline = $7, notes = $8
		WHERE id = $1 AND user_id = $2
		RETURNING `+applicationColumns,
		id, userID, req.University, req.Course, req.RequiredPoints, req.Status, req.Deadline, req.Notes))
	if err != nil {
		return models.Application{}, notFound(err, "update application")
	}
	return a, nil
}

// DeleteApplication removes an application.
func DeleteApplication(ctx context.Context, pool *pgxpool.Pool, userID, id string) error {
	tag, err := pool.Exec(ctx, `DELETE FROM applications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureMilestones inserts any of defaults the user does not have yet.
func EnsureMilestones(ctx context.Context, pool *pgxpool.Pool, userID string, defaults []models.Milestone) error {
	batch := &pgx.Batch{}
	for _, m := range defaults {
		batch.Queue(`
			INSERT INTO milestones (user_id, key, title, sort_order) VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, key) DO NOTHING`, userID, m.Key, m.Title, m.SortOrder)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to seed milestones: %w", err)
	}
	return nil
}

// ListMilestones returns a user's milestones in display order.
func ListMilestones(ctx context.Context, pool *pgxpool.Pool, userID string) ([]models.Milestone, error) {
	rows, err := pool.Query(ctx, `
		SELECT key, title, done_at IS NOT NULL, done_at, sort_order
		FROM milestones WHERE user_id = $1 ORDER BY sort_order, key`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query milestones: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Milestone, error) {
		var m models.Milestone
		err := row.Scan(&m.Key, &m.Title, &m.Done, &m.DoneAt, &m.SortOrder)
		return m, err
	})
}

// ToggleMilestone marks a milestone done (now) or clears it.
func ToggleMilestone(ctx context.Context, pool *pgxpool.Pool, userID, key string) (models.Milestone, error) {
	var m models.Milestone
	err := pool.QueryRow(ctx, `
		UPDATE milestones
		SET done_at = CASE WHEN done_at IS NULL THEN CURRENT_TIMESTAMP ELSE NULL END
		WHERE user_id = $1 AND key = $2
		RETURNING key, title, done_at IS NOT NULL, done_at, sort_order`, userID, key).Scan(
		&m.Key, &m.Title, &m.Done, &m.DoneAt, &m.SortOrder)
	if err != nil {
		return models.Milestone{}, notFound(err, "toggle milestone")
	}
	return m, nil
}
