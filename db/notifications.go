package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/models"
)

// InsertNotification writes an in-app notification.
func InsertNotification(ctx context.Context, pool *pgxpool.Pool, userID string, n models.Notification) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, kind, title, body, link) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), userID, n.Kind, n.Title, n.Body, n.Link)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns the newest notifications.
func ListNotifications(ctx context.Context, pool *pgxpool.Pool, userID string, limit int) ([]models.Notification, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, kind, title, body, link, read, created_at FROM notifications
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Notification, error) {
		var n models.Notification
		err := row.Scan(&n.ID, &n.Kind, &n.Title, &n.Body, &n.Link, &n.Read, &n.CreatedAt)
		return n, err
	})
}

// CountUnread counts unread notifications.
func CountUnread(ctx context.Context, pool *pgxpool.Pool, userID string) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT read`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return n, nil
}

// MarkNotificationRead flags one notification as read.
func MarkNotificationRead(ctx context.Context, pool *pgxpool.Pool, userID, id string) error {
	tag, err := pool.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SavePushSubscription upserts a browser push endpoint for a user.
func SavePushSubscription(ctx context.Context, pool *pgxpool.Pool, userID string, s models.PushSubscription) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO push_subscriptions (endpoint, user_id, p256dh, auth) VALUES ($1, $2, $3, $4)
		ON CONFLICT (endpoint) DO UPDATE SET user_id = EXCLUDED.user_id, p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth`,
		s.Endpoint, userID, s.Keys.P256dh, s.Keys.Auth)
	if err != nil {
		return fmt.Errorf("failed to save push subscription: %w", err)
	}
	return nil
}

// DeletePushSubscription removes an endpoint owned by userID.
func DeletePushSubscription(ctx context.Context, pool *pgxpool.Pool, userID, endpoint string) error {
	tag, err := pool.Exec(ctx, `DELETE FROM push_subscriptions WHERE endpoint = $1 AND user_id = $2`, endpoint, userID)
	if err != nil {
		return fmt.Errorf("failed to delete push subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
