package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/models"
)

// AdminCounts feeds the admin dashboard.
type AdminCounts struct {
	Users       int
	Premium     int
	Questions   int
	ExamsTaken  int
	Reviews     int
	ErrorsToday int
}

// GetAdminCounts runs the dashboard counters in one round trip.
func GetAdminCounts(ctx context.Context, pool *pgxpool.Pool) (AdminCounts, error) {
	var c AdminCounts
	err := pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE plan = 'premium'),
			(SELECT COUNT(*) FROM study_questions),
			(SELECT COUNT(*) FROM exam_sessions WHERE submitted_at IS NOT NULL),
			(SELECT COUNT(*) FROM reviews),
			(SELECT COUNT(*) FROM error_logs WHERE timestamp > NOW() - INTERVAL '1 day')`).Scan(
		&c.Users, &c.Premium, &c.Questions, &c.ExamsTaken, &c.Reviews, &c.ErrorsToday)
	if err != nil {
		return c, fmt.Errorf("failed to query admin counts: %w", err)
	}
	return c, nil
}

// ListErrorLogs returns the newest error log entries.
func ListErrorLogs(ctx context.Context, pool *pgxpool.Pool, limit int) ([]models.ErrorLog, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, timestamp, source, subject, error_message, detail
		FROM error_logs ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query error logs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ErrorLog, error) {
		var e models.ErrorLog
		err := row.Scan(&e.ID, &e.Timestamp, &e.Source, &e.Subject, &e.ErrorMessage, &e.Detail)
		return e, err
	})
}

// ListAdminEvents returns the newest admin events.
func ListAdminEvents(ctx context.Context, pool *pgxpool.Pool, limit int) ([]models.AdminEvent, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, timestamp, COALESCE(action, ''), COALESCE(actor, ''), COALESCE(target, ''), COALESCE(notes, '')
		FROM admin_events ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query admin events: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AdminEvent, error) {
		var e models.AdminEvent
		err := row.Scan(&e.ID, &e.Timestamp, &e.Action, &e.Actor, &e.Target, &e.Notes)
		return e, err
	})
}

// SetUserPlan changes a user's plan and optionally tops up credits.
func SetUserPlan(ctx context.Context, pool *pgxpool.Pool, email, plan string, addCredits int) error {
	tag, err := pool.Exec(ctx, `
		UPDATE users SET plan = $2, credits = credits + $3 WHERE email = $1`, email, plan, addCredits)
	if err != nil {
		return fmt.Errorf("failed to set plan for %s: %w", email, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
